package board

import "strconv"

// UniqueTitle はcandidateがexistingに含まれなければそのまま返す。
// 含まれる場合は "{candidate} 2", "{candidate} 3", ... のうち最初に空いているものを返す。
// 比較は大文字小文字を区別する完全一致で、前後の空白も除去しない。
func UniqueTitle(candidate string, existing []string) string {
	taken := make(map[string]struct{}, len(existing))
	for _, t := range existing {
		taken[t] = struct{}{}
	}

	if _, ok := taken[candidate]; !ok {
		return candidate
	}
	for k := 2; ; k++ {
		title := candidate + " " + strconv.Itoa(k)
		if _, ok := taken[title]; !ok {
			return title
		}
	}
}
