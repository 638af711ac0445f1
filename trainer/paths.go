/*
 *	Copyright 2024 The MaskTrain Authors
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package trainer

import (
	"fmt"
	"os"

	"github.com/gomlx/gomlx/ml/data"
)

// IncrementPath returns basePath if nothing is there yet, otherwise the
// first of basePath2, basePath3, ... that is free. An existing but empty
// directory counts as free and is reused; only a directory holding earlier
// run artifacts (or a plain file) pushes to the next suffix.
func IncrementPath(basePath string) string {
	basePath = data.ReplaceTildeInDir(basePath)
	if !pathOccupied(basePath) {
		return basePath
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s%d", basePath, n)
		if !pathOccupied(candidate) {
			return candidate
		}
	}
}

// pathOccupied reports whether p exists and holds something: a non-empty
// directory or a regular file.
func pathOccupied(p string) bool {
	if !data.FileExists(p) {
		return false
	}
	entries, err := os.ReadDir(p)
	if err != nil {
		// A file, not a directory.
		return true
	}
	return len(entries) > 0
}
