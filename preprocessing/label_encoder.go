package preprocessing

import (
	"math"
	"sort"
	"strings"

	"github.com/YuminosukeSato/hotelres/pkg/errors"
)

// MissingCategory は空セルを置き換えるカテゴリ名
const MissingCategory = "NA_CATEGORY"

// UnknownPolicy は学習時に存在しなかったカテゴリの扱いを決める
type UnknownPolicy string

const (
	// UnknownReserve は未知カテゴリを予約コード len(Classes) に割り当て、警告を出す
	UnknownReserve UnknownPolicy = "reserve"
	// UnknownError は未知カテゴリが現れた時点でエラーにする
	UnknownError UnknownPolicy = "error"
)

// LabelEncoder はカテゴリ値を 0..k-1 の整数コードに変換する
//
// クラスは辞書順にソートされ、コードはその順番で割り当てられる。
// 学習は訓練データでのみ行い、同じ対応表をテストデータとサービング時にも使う。
type LabelEncoder struct {
	// Column はエラーと警告に使う列名
	Column string `json:"column"`

	// Classes は学習済みのクラス（ソート済み）。Classes[code] が元の値
	Classes []string `json:"classes"`

	// Unknown は未知カテゴリの扱い
	Unknown UnknownPolicy `json:"unknown"`

	index map[string]int
}

// NewLabelEncoder は新しいLabelEncoderを作成する
//
// 使用例:
//
//	enc := preprocessing.NewLabelEncoder("room_type_reserved", preprocessing.UnknownReserve)
//	codes, err := enc.FitTransform(trainValues)
//	testCodes, err := enc.Transform(testValues)
func NewLabelEncoder(column string, policy UnknownPolicy) *LabelEncoder {
	if policy == "" {
		policy = UnknownReserve
	}
	return &LabelEncoder{Column: column, Unknown: policy}
}

func normalizeCategory(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return MissingCategory
	}
	return v
}

// Fit は観測された値からクラス一覧を学習する
func (e *LabelEncoder) Fit(values []string) error {
	if len(values) == 0 {
		return errors.NewModelError("LabelEncoder.Fit", "empty data", errors.ErrEmptyData)
	}

	seen := make(map[string]struct{})
	for _, v := range values {
		seen[normalizeCategory(v)] = struct{}{}
	}
	classes := make([]string, 0, len(seen))
	for c := range seen {
		classes = append(classes, c)
	}
	sort.Strings(classes)

	e.Classes = classes
	e.index = nil
	return nil
}

// IsFitted はエンコーダが学習済みかどうかを返す
func (e *LabelEncoder) IsFitted() bool {
	return len(e.Classes) > 0
}

func (e *LabelEncoder) lookup() map[string]int {
	if e.index == nil {
		e.index = make(map[string]int, len(e.Classes))
		for i, c := range e.Classes {
			e.index[c] = i
		}
	}
	return e.index
}

// UnknownCode は UnknownReserve ポリシーで使われる予約コード
func (e *LabelEncoder) UnknownCode() int {
	return len(e.Classes)
}

// Transform は値をコードに変換する
//
// 未知カテゴリは Unknown ポリシーに従って予約コードに割り当てるか、
// ErrUnseenCategory を含む DataError を返す。
func (e *LabelEncoder) Transform(values []string) ([]float64, error) {
	if !e.IsFitted() {
		return nil, errors.NewNotFittedError("LabelEncoder", "Transform")
	}

	index := e.lookup()
	codes := make([]float64, len(values))
	unseen := 0
	for i, v := range values {
		code, ok := index[normalizeCategory(v)]
		if !ok {
			if e.Unknown == UnknownError {
				return nil, errors.WrapDataError(errors.ErrUnseenCategory, e.Column, i,
					"value "+v+" was not seen during fit")
			}
			code = e.UnknownCode()
			unseen++
		}
		codes[i] = float64(code)
	}

	if unseen > 0 {
		errors.Warn(&errors.UnseenCategoryWarning{Column: e.Column, Count: unseen, Code: e.UnknownCode()})
	}
	return codes, nil
}

// FitTransform は学習と変換を同時に行う
func (e *LabelEncoder) FitTransform(values []string) ([]float64, error) {
	if err := e.Fit(values); err != nil {
		return nil, err
	}
	return e.Transform(values)
}

// InverseTransform はコードを元の値に戻す
func (e *LabelEncoder) InverseTransform(codes []float64) ([]string, error) {
	if !e.IsFitted() {
		return nil, errors.NewNotFittedError("LabelEncoder", "InverseTransform")
	}
	out := make([]string, len(codes))
	for i, c := range codes {
		code := int(math.Round(c))
		if code < 0 || code >= len(e.Classes) {
			return nil, errors.NewValueError("LabelEncoder.InverseTransform", "code out of fitted range")
		}
		out[i] = e.Classes[code]
	}
	return out, nil
}

// Mapping は値からコードへの対応表のコピーを返す
func (e *LabelEncoder) Mapping() map[string]int {
	out := make(map[string]int, len(e.Classes))
	for k, v := range e.lookup() {
		out[k] = v
	}
	return out
}
