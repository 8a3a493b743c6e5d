// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sessions

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/AleutianAI/aira/services/orchestrator/datatypes"
	"github.com/AleutianAI/aira/services/orchestrator/textsim"
)

// TitleWords is the number of content words kept in a derived title.
const TitleWords = 5

// DeriveTitle builds a session title from the first AI reply: the first
// TitleWords non-stopword words, title-cased. Text with no content words
// yields datatypes.FallbackTitle.
func DeriveTitle(reply string) string {
	words := textsim.ContentWords(reply)
	if len(words) == 0 {
		return datatypes.FallbackTitle
	}
	if len(words) > TitleWords {
		words = words[:TitleWords]
	}
	return cases.Title(language.English).String(strings.Join(words, " "))
}
