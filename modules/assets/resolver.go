package assets

import (
	"sort"
	"strings"
	"unicode"

	"shotbook-server/modules/common/model"
)

// ShotText - 에셋 매칭에 쓰는 샷 텍스트 필드
type ShotText struct {
	CharacterName string
	SceneContext  string
	Behavior      string
	VisualStyle   string
}

// TextFromPrompt - 구조화 프롬프트에서 매칭 필드 추출
func TextFromPrompt(sp *model.StructuredPrompt) ShotText {
	if sp == nil {
		return ShotText{}
	}
	text := ShotText{
		SceneContext: sp.Scene.Context,
		VisualStyle:  sp.VisualStyle,
	}
	if sp.Character != nil {
		text.CharacterName = sp.Character.Name
		text.Behavior = sp.Character.Behavior
	}
	return text
}

// fields - 에셋 종류별 매칭 대상 필드
func (t ShotText) fields(kind model.AssetType) []string {
	switch kind {
	case model.AssetCharacter:
		return []string{t.CharacterName}
	case model.AssetLocation:
		return []string{t.SceneContext}
	case model.AssetProp:
		return []string{t.SceneContext, t.Behavior}
	case model.AssetStyle:
		return []string{t.VisualStyle}
	}
	return nil
}

// Matcher - 필드 텍스트에 에셋 이름이 포함되는지 판정
type Matcher func(field, name string) bool

// SubstringMatch - 대소문자 무시 부분 문자열 포함 (기본 규칙)
//
// 흔한 단어와 겹치는 이름은 오탐이 난다 ("Max" ⊂ "maximum").
// 사용자는 toggleAsset으로 결과를 고칠 수 있다.
func SubstringMatch(field, name string) bool {
	name = strings.TrimSpace(name)
	if name == "" || field == "" {
		return false
	}
	return strings.Contains(strings.ToLower(field), strings.ToLower(name))
}

// TokenMatch - 단어 경계 기준 매칭. 기본값이 아닌 대안 규칙
func TokenMatch(field, name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || field == "" {
		return false
	}
	lower := strings.ToLower(field)
	for start := 0; start < len(lower); {
		idx := strings.Index(lower[start:], name)
		if idx < 0 {
			return false
		}
		begin := start + idx
		end := begin + len(name)
		if boundaryBefore(lower, begin) && boundaryAfter(lower, end) {
			return true
		}
		start = begin + 1
	}
	return false
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r := rune(s[i-1])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r := rune(s[i])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// Resolver - 샷 텍스트로 에셋 자동 바인딩
type Resolver struct {
	Match Matcher
	Cap   int
}

// DefaultResolver - 부분 문자열 매칭, 최대 3개
var DefaultResolver = Resolver{Match: SubstringMatch, Cap: model.MaxSelectedAssets}

// Resolve - 기본 규칙으로 매칭된 에셋 ID 반환 (기존 선택 없음)
func Resolve(text ShotText, candidates []model.Asset) []string {
	return DefaultResolver.Resolve(text, candidates, nil, nil)
}

var typeRank = map[model.AssetType]int{
	model.AssetCharacter: 0,
	model.AssetLocation:  1,
	model.AssetProp:      2,
	model.AssetStyle:     3,
}

// Resolve - 기존 선택(existing)은 순서 그대로 유지하고, 자동 매칭 결과를 cap까지 뒤에 붙인다.
// dismissed에 있는 에셋은 자동으로 다시 붙지 않는다.
// 자동 매칭은 (종류, ID) 순으로 정렬되므로 후보 순서와 무관하게 같은 집합을 만든다.
func (r Resolver) Resolve(text ShotText, candidates []model.Asset, existing, dismissed []string) []string {
	match := r.Match
	if match == nil {
		match = SubstringMatch
	}
	limit := r.Cap
	if limit <= 0 {
		limit = model.MaxSelectedAssets
	}

	out := make([]string, 0, limit)
	taken := map[string]bool{}
	for _, id := range existing {
		if id == "" || taken[id] || len(out) >= limit {
			continue
		}
		taken[id] = true
		out = append(out, id)
	}

	skip := map[string]bool{}
	for _, id := range dismissed {
		skip[id] = true
	}

	matched := []model.Asset{}
	for _, a := range candidates {
		if taken[a.ID] || skip[a.ID] || a.ID == "" {
			continue
		}
		for _, field := range text.fields(a.Type) {
			if match(field, a.Name) {
				taken[a.ID] = true
				matched = append(matched, a)
				break
			}
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		ri, rj := typeRank[matched[i].Type], typeRank[matched[j].Type]
		if ri != rj {
			return ri < rj
		}
		return matched[i].ID < matched[j].ID
	})

	for _, a := range matched {
		if len(out) >= limit {
			break
		}
		out = append(out, a.ID)
	}
	return out
}
