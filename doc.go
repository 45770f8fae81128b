// Package hotelres predicts whether a hotel booking will be canceled.
//
// The repository is a batch training pipeline plus a small prediction
// server:
//
//   - pipeline/ingestion downloads the raw bookings CSV from S3, GCS or a
//     local directory and writes a seeded train/test split.
//   - pipeline/processing drops identifiers and duplicates, label-encodes
//     categorical columns, log1p-transforms skewed columns, balances the
//     training rows with SMOTE and keeps the top-N features ranked by a
//     random forest.
//   - pipeline/training runs a goptuna random search with stratified
//     cross-validation over the gradient boosted trees in sklearn/lightgbm,
//     evaluates the winner on the test split and records the run in MLflow
//     or the local badger store.
//   - serving loads the model bundle and exposes an HTML form, a JSON
//     endpoint, a health check and Prometheus metrics.
//
// Everything is driven by cmd/hotelres:
//
//	hotelres run --config config/config.yaml
//	hotelres serve --addr :8080
//
// Configuration is layered (defaults, YAML, HOTELRES_ environment
// variables) and validated before any stage starts; see package config.
package hotelres
