package model

import (
	"sync"

	"github.com/YuminosukeSato/hotelres/pkg/errors"
)

// StateManager はエスティメータの学習済み状態と学習時の次元を保持する。
// 埋め込みではなくフィールドとして持たせ、並行アクセスに対して安全に扱う。
type StateManager struct {
	mu sync.RWMutex

	// gob で保存できるよう公開フィールドにしている
	Fitted    bool
	NFeatures int
	NSamples  int
}

// NewStateManager は未学習状態の StateManager を返す
func NewStateManager() *StateManager {
	return &StateManager{}
}

// IsFitted は Fit が完了しているかを返す
func (s *StateManager) IsFitted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Fitted
}

// SetFitted は学習済みとしてマークする
func (s *StateManager) SetFitted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Fitted = true
}

// SetDimensions は学習時の特徴量数とサンプル数を記録する
func (s *StateManager) SetDimensions(nFeatures, nSamples int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.NFeatures = nFeatures
	s.NSamples = nSamples
}

// Dimensions は学習時の特徴量数とサンプル数を返す
func (s *StateManager) Dimensions() (nFeatures, nSamples int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.NFeatures, s.NSamples
}

// RequireFitted は未学習なら NotFittedError を返す
func (s *StateManager) RequireFitted(modelName, method string) error {
	if !s.IsFitted() {
		return errors.NewNotFittedError(modelName, method)
	}
	return nil
}

// RequireFeatures は列数が学習時と一致しなければ DimensionError を返す
func (s *StateManager) RequireFeatures(op string, got int) error {
	nFeatures, _ := s.Dimensions()
	if nFeatures != got {
		return errors.NewDimensionError(op, nFeatures, got, 1)
	}
	return nil
}
