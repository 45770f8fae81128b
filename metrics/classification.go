package metrics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/hotelres/pkg/errors"
)

// PositiveLabel は二値分類の陽性クラスのコード
const PositiveLabel = 1.0

const logLossEpsilon = 1e-15

func checkPair(op string, yTrue, yPred *mat.VecDense) (int, error) {
	if yTrue == nil || yPred == nil {
		return 0, errors.NewValueError(op, "nil vector")
	}
	n := yTrue.Len()
	if n == 0 {
		return 0, errors.NewValueError(op, "empty vector")
	}
	if yPred.Len() != n {
		return 0, errors.NewDimensionError(op, n, yPred.Len(), 0)
	}
	return n, nil
}

func checkBinaryLabels(op string, y *mat.VecDense) error {
	for i := 0; i < y.Len(); i++ {
		if v := y.AtVec(i); v != 0 && v != 1 {
			return errors.NewValueError(op, "labels must be 0 or 1")
		}
	}
	return nil
}

// Accuracy は正解率を計算する
func Accuracy(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkPair("Accuracy", yTrue, yPred)
	if err != nil {
		return 0, err
	}

	correct := 0
	for i := 0; i < n; i++ {
		if yTrue.AtVec(i) == yPred.AtVec(i) {
			correct++
		}
	}
	return float64(correct) / float64(n), nil
}

// ClassificationError は誤分類率（1 - 正解率）を計算する
func ClassificationError(yTrue, yPred *mat.VecDense) (float64, error) {
	acc, err := Accuracy(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return 1 - acc, nil
}

// ConfusionMatrix は二値分類の混同行列
type ConfusionMatrix struct {
	TP, FP, TN, FN int
}

// NewConfusionMatrix は PositiveLabel を陽性として混同行列を数える
func NewConfusionMatrix(yTrue, yPred *mat.VecDense) (ConfusionMatrix, error) {
	var cm ConfusionMatrix
	n, err := checkPair("ConfusionMatrix", yTrue, yPred)
	if err != nil {
		return cm, err
	}

	for i := 0; i < n; i++ {
		actual := yTrue.AtVec(i) == PositiveLabel
		predicted := yPred.AtVec(i) == PositiveLabel
		switch {
		case actual && predicted:
			cm.TP++
		case !actual && predicted:
			cm.FP++
		case actual && !predicted:
			cm.FN++
		default:
			cm.TN++
		}
	}
	return cm, nil
}

// Dense は [[TN, FP], [FN, TP]] の順の行列を返す（行が正解、列が予測）
func (cm ConfusionMatrix) Dense() *mat.Dense {
	return mat.NewDense(2, 2, []float64{
		float64(cm.TN), float64(cm.FP),
		float64(cm.FN), float64(cm.TP),
	})
}

// Precision は TP / (TP + FP)。陽性予測がない場合は 0 を返し警告を出す
func (cm ConfusionMatrix) Precision() float64 {
	if cm.TP+cm.FP == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("precision", "no predicted samples", 0))
		return 0
	}
	return float64(cm.TP) / float64(cm.TP+cm.FP)
}

// Recall は TP / (TP + FN)。陽性サンプルがない場合は 0 を返し警告を出す
func (cm ConfusionMatrix) Recall() float64 {
	if cm.TP+cm.FN == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("recall", "no true samples", 0))
		return 0
	}
	return float64(cm.TP) / float64(cm.TP+cm.FN)
}

// F1 は precision と recall の調和平均
func (cm ConfusionMatrix) F1() float64 {
	denom := 2*cm.TP + cm.FP + cm.FN
	if denom == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("f1", "no true nor predicted samples", 0))
		return 0
	}
	return 2 * float64(cm.TP) / float64(denom)
}

// Precision は陽性クラスの適合率を計算する
func Precision(yTrue, yPred *mat.VecDense) (float64, error) {
	cm, err := NewConfusionMatrix(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return cm.Precision(), nil
}

// Recall は陽性クラスの再現率を計算する
func Recall(yTrue, yPred *mat.VecDense) (float64, error) {
	cm, err := NewConfusionMatrix(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return cm.Recall(), nil
}

// F1Score は陽性クラスのF1スコアを計算する
func F1Score(yTrue, yPred *mat.VecDense) (float64, error) {
	cm, err := NewConfusionMatrix(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return cm.F1(), nil
}

// Report はホールドアウト評価でまとめて記録する指標
type Report struct {
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
}

// Evaluate は正解率・適合率・再現率・F1をまとめて計算する
func Evaluate(yTrue, yPred *mat.VecDense) (Report, error) {
	cm, err := NewConfusionMatrix(yTrue, yPred)
	if err != nil {
		return Report{}, err
	}
	total := cm.TP + cm.TN + cm.FP + cm.FN
	return Report{
		Accuracy:  float64(cm.TP+cm.TN) / float64(total),
		Precision: cm.Precision(),
		Recall:    cm.Recall(),
		F1:        cm.F1(),
	}, nil
}

// Map は追跡用に指標名から値への対応を返す
func (r Report) Map() map[string]float64 {
	return map[string]float64{
		"accuracy":  r.Accuracy,
		"precision": r.Precision,
		"recall":    r.Recall,
		"f1":        r.F1,
	}
}

// BinaryLogLoss は二値分類の対数損失を計算する
//
// 予測確率は log(0) を避けるため [eps, 1-eps] にクリップされる。
func BinaryLogLoss(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkPair("BinaryLogLoss", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	if err := checkBinaryLabels("BinaryLogLoss", yTrue); err != nil {
		return 0, err
	}

	var sum float64
	for i := 0; i < n; i++ {
		p := errors.ClipValue(yPred.AtVec(i), logLossEpsilon, 1-logLossEpsilon)
		if yTrue.AtVec(i) == 1 {
			sum -= math.Log(p)
		} else {
			sum -= math.Log(1 - p)
		}
	}
	return sum / float64(n), nil
}

// AUC はROC曲線下面積を計算する
//
// 同順位のスコアには平均順位を割り当てる（Mann-Whitney U統計量）。
// 片方のクラスしか存在しない場合は定義できないため 0.5 を返し警告を出す。
func AUC(yTrue, yScore *mat.VecDense) (float64, error) {
	n, err := checkPair("AUC", yTrue, yScore)
	if err != nil {
		return 0, err
	}
	if err := checkBinaryLabels("AUC", yTrue); err != nil {
		return 0, err
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return yScore.AtVec(order[a]) < yScore.AtVec(order[b])
	})

	var nPos, nNeg int
	var rankSum float64
	for i := 0; i < n; {
		j := i
		for j < n && yScore.AtVec(order[j]) == yScore.AtVec(order[i]) {
			j++
		}
		// 順位は1始まり、同順位 i..j-1 は平均順位
		avgRank := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			if yTrue.AtVec(order[k]) == 1 {
				nPos++
				rankSum += avgRank
			} else {
				nNeg++
			}
		}
		i = j
	}

	if nPos == 0 || nNeg == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("auc", "only one class present in y_true", 0.5))
		return 0.5, nil
	}

	u := rankSum - float64(nPos*(nPos+1))/2
	return u / float64(nPos*nNeg), nil
}

// AUCMatrix は行列形式の入力の先頭列でAUCを計算する
func AUCMatrix(yTrue, yScore mat.Matrix) (float64, error) {
	if yTrue == nil || yScore == nil {
		return 0, errors.NewValueError("AUCMatrix", "nil matrix")
	}
	r, c := yTrue.Dims()
	rs, cs := yScore.Dims()
	if r == 0 || c == 0 || rs == 0 || cs == 0 {
		return 0, errors.NewValueError("AUCMatrix", "empty matrix")
	}
	if r != rs {
		return 0, errors.NewDimensionError("AUCMatrix", r, rs, 0)
	}

	t := mat.NewVecDense(r, nil)
	s := mat.NewVecDense(r, nil)
	for i := 0; i < r; i++ {
		t.SetVec(i, yTrue.At(i, 0))
		s.SetVec(i, yScore.At(i, 0))
	}
	return AUC(t, s)
}
