// Package lightgbm provides a pure Go gradient-boosted decision tree trainer
// modelled on LightGBM: histogram-based split finding, leaf-wise tree growth,
// the binary log-loss objective and the gbdt, dart and rf boosting modes.
//
// # scikit-learn Compatible API
//
//	clf := lightgbm.NewLGBMClassifier().
//	    WithNumIterations(200).
//	    WithNumLeaves(31).
//	    WithBoostingType(lightgbm.DART)
//	if err := clf.Fit(XTrain, yTrain); err != nil {
//	    return err
//	}
//	proba, _ := clf.PredictProba(XTest) // n x 2, columns are classes 0 and 1
//	labels, _ := clf.Predict(XTest)
//
// # Low-level Trainer
//
//	trainer := lightgbm.NewTrainer(lightgbm.TrainingParams{
//	    NumIterations: 100,
//	    LearningRate:  0.1,
//	    Objective:     "binary",
//	})
//	err := trainer.Fit(X, y)
//	m := trainer.GetModel()
//	importance := m.GetFeatureImportance("gain")
//
// # Cross-validation
//
//	cv, err := lightgbm.CrossValScore(
//	    func() lightgbm.Estimator { return lightgbm.NewLGBMClassifier() },
//	    X, y, lightgbm.NewStratifiedKFold(5, false, 0), nil)
//	fmt.Println(cv.GetMeanScore())
//
// Models are plain structs and can be stored with encoding/gob through
// core/model.SaveModel.
package lightgbm
