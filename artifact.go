// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package mcbatch

import (
	"fmt"
	"path"
	"strings"
)

const (
	inputToken  = "_input_part_"
	resultToken = "_result_part_"
	extension   = ".json"
)

// BaseName derives the artifact base name from an input file name by
// stripping any directory, the extension, and a trailing "_input". For
// example, "data/monte_carlo_input.json" has base name "monte_carlo".
func BaseName(name string) string {
	base := path.Base(name)
	base = strings.TrimSuffix(base, path.Ext(base))
	return strings.TrimSuffix(base, "_input")
}

// InputKey returns the storage key of the input artifact for the chunk
// with the given ordinal.
func InputKey(base string, ordinal int) string {
	return fmt.Sprintf("%s%s%d%s", base, inputToken, ordinal, extension)
}

// ResultKey returns the storage key of the result artifact for the chunk
// with the given ordinal.
func ResultKey(base string, ordinal int) string {
	return fmt.Sprintf("%s%s%d%s", base, resultToken, ordinal, extension)
}

// ResultKeyFor maps an input artifact key to its result artifact key.
// The substitution applies to the last input token of the key's base
// name only; keys are never full paths. ResultKeyFor returns false if
// key is not an input artifact key.
func ResultKeyFor(key string) (string, bool) {
	dir, name := path.Split(key)
	i := strings.LastIndex(name, inputToken)
	if i < 0 {
		return "", false
	}
	return dir + name[:i] + resultToken + name[i+len(inputToken):], true
}

// AggregateKey returns the storage key of the aggregated output for a
// base name.
func AggregateKey(base string) string {
	return base + "_result_aggregated" + extension
}
