package lightgbm

import (
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/hotelres/core/parallel"
	"github.com/YuminosukeSato/hotelres/pkg/errors"
	"github.com/YuminosukeSato/hotelres/pkg/log"
)

const kEpsilon = 1e-15

// errNoMoreSplits stops boosting when a new tree cannot split its root
var errNoMoreSplits = errors.New("no more leaves that meet the split requirements")

// Trainer implements the LightGBM training algorithm: histogram-based,
// leaf-wise (best-first) tree growth on gradient statistics.
type Trainer struct {
	// Training parameters
	params TrainingParams

	// Data
	data        *binnedData
	numFeatures int
	y           []float64

	// Gradient and Hessian
	gradients []float64
	hessians  []float64

	// scores caches the raw ensemble output for every training row
	scores []float64
	// rfSum is the running sum of tree outputs in rf mode
	rfSum []float64

	// Trees
	trees []Tree

	// Objective function
	objective ObjectiveFunction
	initScore float64

	sampler   *SamplingStrategy
	callbacks []Callback
	logger    log.Logger
}

// SplitInfo contains information about a potential split
type SplitInfo struct {
	Feature    int // -1 when no valid split exists
	Bin        int
	Threshold  float64
	Gain       float64
	LeftCount  int
	RightCount int
	LeftGrad   float64
	RightGrad  float64
	LeftHess   float64
	RightHess  float64
}

// leafState is a leaf of the tree under construction
type leafState struct {
	node    int
	depth   int
	indices []int
	hists   []FeatureHistogram
	sumGrad float64
	sumHess float64
	best    SplitInfo
}

// NewTrainer creates a new LightGBM trainer. Zero-valued parameters take
// LightGBM's defaults.
func NewTrainer(params TrainingParams) *Trainer {
	return &Trainer{
		params: params.withDefaults(),
		logger: log.GetLoggerWithName("lightgbm.trainer"),
	}
}

// WithCallbacks sets the callbacks for training
func (t *Trainer) WithCallbacks(callbacks ...Callback) *Trainer {
	t.callbacks = callbacks
	return t
}

// Params returns the effective training parameters
func (t *Trainer) Params() TrainingParams {
	return t.params
}

// Fit trains the model on X (n x d) and the n x 1 label matrix y
func (t *Trainer) Fit(X, y mat.Matrix) error {
	if err := t.params.Validate(); err != nil {
		return err
	}

	rows, cols := X.Dims()
	if rows == 0 || cols == 0 {
		return errors.NewModelError("Trainer.Fit", "empty data", errors.ErrEmptyData)
	}
	yRows, yCols := y.Dims()
	if yRows != rows {
		return errors.NewDimensionError("Trainer.Fit", rows, yRows, 0)
	}
	if yCols != 1 {
		return errors.NewDimensionError("Trainer.Fit", 1, yCols, 1)
	}

	objective, err := CreateObjectiveFunction(t.params.Objective)
	if err != nil {
		return err
	}
	t.objective = objective

	t.y = mat.Col(nil, 0, y)
	if _, ok := objective.(*BinaryLogLoss); ok {
		for _, v := range t.y {
			if v != 0 && v != 1 {
				return errors.NewValueError("Trainer.Fit", "binary objective requires labels 0 or 1")
			}
		}
	}

	t.numFeatures = cols
	t.data = newBinnedData(X, t.params.MaxBin)
	t.initScore = objective.GetInitScore(t.y)
	t.scores = make([]float64, rows)
	for i := range t.scores {
		t.scores[i] = t.initScore
	}
	t.gradients = make([]float64, rows)
	t.hessians = make([]float64, rows)
	t.sampler = NewSamplingStrategy(t.params)
	t.trees = nil

	if t.params.BoostingType == RF {
		// rf fits every tree to the gradients at the initial score
		t.rfSum = make([]float64, rows)
		if err := t.computeGradients(0); err != nil {
			return err
		}
	}

	begin := time.Now()
	for iter := 0; iter < t.params.NumIterations; iter++ {
		switch t.params.BoostingType {
		case RF:
			err = t.trainRFIteration(iter)
		case DART:
			err = t.trainDARTIteration(iter)
		default:
			err = t.trainGBDTIteration(iter)
		}
		if errors.Is(err, errNoMoreSplits) {
			t.logger.Debug("Stopped training because there are no more leaves that meet the split requirements",
				log.IterationKey, iter)
			break
		}
		if err != nil {
			return errors.Wrapf(err, "iteration %d", iter)
		}

		if len(t.callbacks) > 0 {
			env := &CallbackEnv{
				Iteration:   iter,
				BeginTime:   begin,
				EvalResults: map[string]float64{"training_loss": t.trainingLoss()},
			}
			for _, cb := range t.callbacks {
				if err := cb(env); err != nil {
					return errors.Wrapf(err, "callback at iteration %d", iter)
				}
			}
		}
	}

	return nil
}

func (t *Trainer) trainGBDTIteration(iter int) error {
	if err := t.computeGradients(iter); err != nil {
		return err
	}
	tree := t.buildTree(iter)
	if tree.NumLeaves <= 1 {
		return errNoMoreSplits
	}
	tree.ShrinkageRate = t.params.LearningRate
	t.trees = append(t.trees, tree)
	t.addTreeScores(&t.trees[len(t.trees)-1], 1)
	return nil
}

// trainDARTIteration drops a random subset of trees, fits a new tree to the
// remaining ensemble and rescales: the new tree gets lr/(1+k) and each of the
// k dropped trees is scaled by k/(k+1).
func (t *Trainer) trainDARTIteration(iter int) error {
	dropped := t.selectDARTDropIndices(len(t.trees), iter)
	for _, i := range dropped {
		t.addTreeScores(&t.trees[i], -1)
	}

	if err := t.computeGradients(iter); err != nil {
		for _, i := range dropped {
			t.addTreeScores(&t.trees[i], 1)
		}
		return err
	}
	tree := t.buildTree(iter)
	if tree.NumLeaves <= 1 {
		for _, i := range dropped {
			t.addTreeScores(&t.trees[i], 1)
		}
		return errNoMoreSplits
	}

	k := float64(len(dropped))
	tree.ShrinkageRate = t.params.LearningRate / (1 + k)
	t.trees = append(t.trees, tree)
	t.addTreeScores(&t.trees[len(t.trees)-1], 1)

	t.normalizeDARTWeights(dropped)
	for _, i := range dropped {
		t.addTreeScores(&t.trees[i], 1)
	}
	return nil
}

// selectDARTDropIndices picks the trees to drop at an iteration. The choice
// depends only on DropSeed and the iteration so it is reproducible.
func (t *Trainer) selectDARTDropIndices(numTrees int, iteration int) []int {
	if numTrees == 0 {
		return nil
	}
	rng := rand.New(rand.NewPCG(uint64(t.params.DropSeed), uint64(iteration)))
	if rng.Float64() < t.params.SkipDrop {
		return nil
	}

	var dropped []int
	if t.params.UniformDrop {
		for i := 0; i < numTrees; i++ {
			if rng.Float64() < t.params.DropRate {
				dropped = append(dropped, i)
			}
		}
	} else {
		// drop probability proportional to the current tree weight
		var sumWeight float64
		for i := 0; i < numTrees; i++ {
			sumWeight += t.treeWeight(i)
		}
		for i := 0; i < numTrees; i++ {
			p := t.params.DropRate * t.treeWeight(i) * float64(numTrees) / sumWeight
			if rng.Float64() < p {
				dropped = append(dropped, i)
			}
		}
	}

	if t.params.MaxDrop > 0 && len(dropped) > t.params.MaxDrop {
		rng.Shuffle(len(dropped), func(a, b int) {
			dropped[a], dropped[b] = dropped[b], dropped[a]
		})
		dropped = dropped[:t.params.MaxDrop]
		slices.Sort(dropped)
	}
	return dropped
}

func (t *Trainer) treeWeight(i int) float64 {
	if i < len(t.trees) {
		return t.trees[i].ShrinkageRate
	}
	return t.params.LearningRate
}

// normalizeDARTWeights scales every dropped tree by k/(k+1)
func (t *Trainer) normalizeDARTWeights(dropped []int) {
	k := float64(len(dropped))
	for _, i := range dropped {
		t.trees[i].ShrinkageRate *= k / (k + 1)
	}
}

// trainRFIteration fits one bagged tree; the model averages tree outputs
func (t *Trainer) trainRFIteration(iter int) error {
	tree := t.buildTree(iter)
	tree.ShrinkageRate = 1.0
	t.trees = append(t.trees, tree)

	last := &t.trees[len(t.trees)-1]
	n := float64(len(t.trees))
	parallel.Parallelize(len(t.scores), func(start, end int) {
		for i := start; i < end; i++ {
			t.rfSum[i] += last.predictBinned(t.data, i)
			t.scores[i] = t.initScore + t.rfSum[i]/n
		}
	})
	return nil
}

// computeGradients computes gradients and hessians for the cached scores.
// A NaN or Inf gradient stops training.
func (t *Trainer) computeGradients(iter int) error {
	parallel.Parallelize(len(t.scores), func(start, end int) {
		for i := start; i < end; i++ {
			t.gradients[i] = t.objective.CalculateGradient(t.scores[i], t.y[i])
			t.hessians[i] = t.objective.CalculateHessian(t.scores[i], t.y[i])
		}
	})
	return errors.CheckNumericalStability("gradient", t.gradients, iter)
}

// addTreeScores adds sign * tree output to every cached training score
func (t *Trainer) addTreeScores(tree *Tree, sign float64) {
	parallel.Parallelize(len(t.scores), func(start, end int) {
		for i := start; i < end; i++ {
			t.scores[i] += sign * tree.predictBinned(t.data, i)
		}
	})
}

// trainingLoss returns the mean objective loss over the cached scores
func (t *Trainer) trainingLoss() float64 {
	var loss float64
	for i, s := range t.scores {
		loss += t.objective.CalculateLoss(s, t.y[i])
	}
	return loss / float64(len(t.scores))
}

// buildTree grows one tree leaf-wise: at each step the leaf with the largest
// split gain is split, until NumLeaves is reached or no leaf can be split.
func (t *Trainer) buildTree(iter int) Tree {
	bag := t.sampler.SampleInstances(t.data.numRows, iter)
	indices := append([]int(nil), bag...)
	features := t.sampler.SampleFeatures(t.numFeatures)

	tree := Tree{Nodes: []Node{{LeftChild: -1, RightChild: -1}}}

	root := &leafState{node: 0, indices: indices}
	root.hists = t.data.buildHistograms(indices, features, t.gradients, t.hessians)
	for _, i := range indices {
		root.sumGrad += t.gradients[i]
		root.sumHess += t.hessians[i]
	}
	root.best = t.findBestSplit(root, features)

	leaves := []*leafState{root}
	buf := make([]int, len(indices))
	for len(leaves) < t.params.NumLeaves {
		bestLeaf := -1
		for li, leaf := range leaves {
			if leaf.best.Feature < 0 {
				continue
			}
			if bestLeaf < 0 || leaf.best.Gain > leaves[bestLeaf].best.Gain {
				bestLeaf = li
			}
		}
		if bestLeaf < 0 {
			break
		}

		left, right := t.splitLeaf(&tree, leaves[bestLeaf], features, buf)
		leaves[bestLeaf] = left
		leaves = append(leaves, right)
	}

	for _, leaf := range leaves {
		node := &tree.Nodes[leaf.node]
		node.LeafValue = t.leafOutput(leaf.sumGrad, leaf.sumHess)
		node.Count = len(leaf.indices)
	}
	tree.NumLeaves = len(leaves)
	return tree
}

// splitLeaf turns a leaf into an internal node with two new leaves
func (t *Trainer) splitLeaf(tree *Tree, leaf *leafState, features []int, buf []int) (*leafState, *leafState) {
	split := leaf.best

	// stable partition of the leaf's rows by the split bin
	col := t.data.bins[split.Feature]
	nl, nr := 0, 0
	tmp := buf[:len(leaf.indices)]
	for _, i := range leaf.indices {
		if int(col[i]) <= split.Bin {
			leaf.indices[nl] = i
			nl++
		} else {
			tmp[nr] = i
			nr++
		}
	}
	copy(leaf.indices[nl:], tmp[:nr])

	leftIdx := len(tree.Nodes)
	rightIdx := leftIdx + 1
	tree.Nodes = append(tree.Nodes,
		Node{LeftChild: -1, RightChild: -1, Depth: leaf.depth + 1},
		Node{LeftChild: -1, RightChild: -1, Depth: leaf.depth + 1},
	)
	parent := &tree.Nodes[leaf.node]
	parent.LeftChild = leftIdx
	parent.RightChild = rightIdx
	parent.SplitFeature = split.Feature
	parent.Threshold = split.Threshold
	parent.ThresholdBin = split.Bin
	parent.Gain = split.Gain
	parent.Count = len(leaf.indices)
	parent.LeafValue = t.leafOutput(leaf.sumGrad, leaf.sumHess)

	left := &leafState{
		node:    leftIdx,
		depth:   leaf.depth + 1,
		indices: leaf.indices[:nl],
		sumGrad: split.LeftGrad,
		sumHess: split.LeftHess,
	}
	right := &leafState{
		node:    rightIdx,
		depth:   leaf.depth + 1,
		indices: leaf.indices[nl:],
		sumGrad: split.RightGrad,
		sumHess: split.RightHess,
	}

	// build the smaller child and derive the larger one by subtraction
	small, large := left, right
	if len(right.indices) < len(left.indices) {
		small, large = right, left
	}
	small.hists = t.data.buildHistograms(small.indices, features, t.gradients, t.hessians)
	large.hists = subtractHistograms(leaf.hists, small.hists)
	leaf.hists = nil

	left.best = t.findBestSplit(left, features)
	right.best = t.findBestSplit(right, features)
	return left, right
}

// findBestSplit finds the best split of a leaf over the sampled features
func (t *Trainer) findBestSplit(leaf *leafState, features []int) SplitInfo {
	best := SplitInfo{Feature: -1, Gain: math.Max(t.params.MinGainToSplit, kEpsilon)}

	if t.params.MaxDepth > 0 && leaf.depth >= t.params.MaxDepth {
		return best
	}
	total := len(leaf.indices)
	if total < 2*max(t.params.MinDataInLeaf, 1) {
		return best
	}

	parentScore := leaf.sumGrad * leaf.sumGrad / (leaf.sumHess + t.params.Lambda)
	for _, j := range features {
		h := leaf.hists[j]
		var lc int
		var lg, lh float64
		for b := 0; b < len(h)-1; b++ {
			lc += h[b].Count
			lg += h[b].SumGrad
			lh += h[b].SumHess
			if h[b].Count == 0 {
				continue
			}
			if lc < t.params.MinDataInLeaf || lh < t.params.MinSumHessianInLeaf {
				continue
			}
			rc := total - lc
			rg := leaf.sumGrad - lg
			rh := leaf.sumHess - lh
			if rc < max(t.params.MinDataInLeaf, 1) || rh < t.params.MinSumHessianInLeaf {
				break
			}

			gain := t.calculateSplitGain(lg, lh, rg, rh, parentScore)
			if gain > best.Gain {
				best = SplitInfo{
					Feature:    j,
					Bin:        b,
					Threshold:  t.data.mappers[j].UpperBounds[b],
					Gain:       gain,
					LeftCount:  lc,
					RightCount: rc,
					LeftGrad:   lg,
					RightGrad:  rg,
					LeftHess:   lh,
					RightHess:  rh,
				}
			}
		}
	}
	return best
}

// calculateSplitGain calculates the gain from a split
func (t *Trainer) calculateSplitGain(leftGrad, leftHess, rightGrad, rightHess, parentScore float64) float64 {
	lambda := t.params.Lambda
	leftScore := (leftGrad * leftGrad) / (leftHess + lambda)
	rightScore := (rightGrad * rightGrad) / (rightHess + lambda)
	return 0.5 * (leftScore + rightScore - parentScore)
}

// leafOutput calculates the optimal value for a leaf node
func (t *Trainer) leafOutput(sumGrad, sumHess float64) float64 {
	denom := sumHess + t.params.Lambda
	if denom < kEpsilon {
		denom = kEpsilon
	}
	return -sumGrad / denom
}

// GetModel returns the trained model
func (t *Trainer) GetModel() *Model {
	trees := make([]Tree, len(t.trees))
	copy(trees, t.trees)
	return &Model{
		Objective:     t.objective.Name(),
		BoostingType:  t.params.BoostingType,
		NumIteration:  len(trees),
		LearningRate:  t.params.LearningRate,
		AverageOutput: t.params.BoostingType == RF,
		Trees:         trees,
		NumFeatures:   t.numFeatures,
		InitScore:     t.initScore,
		Params:        t.params,
	}
}
