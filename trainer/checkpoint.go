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
	"encoding/gob"
	"os"
	"path"
	"strings"

	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/pkg/errors"
)

// Checkpoint file names within a fold directory.
const (
	BestCheckpointName = "best.pth"
	LastCheckpointName = "last.pth"
)

// skippedCheckpointScopes are top-level scopes holding transient optimizer
// state, not part of the model.
var skippedCheckpointScopes = []string{adamScope, velocityScope, optimizers.Scope}

func checkpointSkips(scope, name string) bool {
	if name == optimizers.GlobalStepVariableName {
		return true
	}
	for _, skipped := range skippedCheckpointScopes {
		prefix := context.ScopeSeparator + skipped
		if scope == prefix || strings.HasPrefix(scope, prefix+context.ScopeSeparator) {
			return true
		}
	}
	return false
}

// SaveCheckpoint writes all model variables of ctx to filePath, atomically
// (write to a temporary file, then rename). Optimizer state and step
// counters are not saved.
func SaveCheckpoint(ctx *context.Context, filePath string) error {
	var saved []*context.Variable
	ctx.EnumerateVariables(func(v *context.Variable) {
		if checkpointSkips(v.Scope(), v.Name()) {
			return
		}
		saved = append(saved, v)
	})

	tmpPath := filePath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return errors.Wrapf(err, "failed to create checkpoint file %q", tmpPath)
	}
	enc := gob.NewEncoder(f)
	if err = enc.Encode(len(saved)); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to encode checkpoint header for %q", filePath)
	}
	for _, v := range saved {
		if err = enc.Encode(v.Scope()); err == nil {
			if err = enc.Encode(v.Name()); err == nil {
				err = v.Value().GobSerialize(enc)
			}
		}
		if err != nil {
			_ = f.Close()
			return errors.Wrapf(err, "failed to encode variable %s::%s to %q", v.Scope(), v.Name(), filePath)
		}
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "failed to close checkpoint file %q", tmpPath)
	}
	if err = os.Rename(tmpPath, filePath); err != nil {
		return errors.Wrapf(err, "failed to move checkpoint into place at %q", filePath)
	}
	return nil
}

// LoadCheckpoint restores variables saved by SaveCheckpoint into ctx.
// Existing variables are overwritten in place; variables not yet present are
// created in their saved scope.
func LoadCheckpoint(ctx *context.Context, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to open checkpoint file %q", filePath)
	}
	defer func() { _ = f.Close() }()
	dec := gob.NewDecoder(f)
	var count int
	if err = dec.Decode(&count); err != nil {
		return errors.Wrapf(err, "failed to decode checkpoint header from %q", filePath)
	}
	for ii := 0; ii < count; ii++ {
		var scope, name string
		if err = dec.Decode(&scope); err != nil {
			return errors.Wrapf(err, "failed to decode variable scope #%d from %q", ii, filePath)
		}
		if err = dec.Decode(&name); err != nil {
			return errors.Wrapf(err, "failed to decode variable name #%d from %q", ii, filePath)
		}
		value, err := tensors.GobDeserialize(dec)
		if err != nil {
			return errors.Wrapf(err, "failed to decode value of %s::%s from %q", scope, name, filePath)
		}
		if v := ctx.InspectVariable(scope, name); v != nil {
			v.SetValue(value)
		} else {
			ctx.InAbsPath(scope).Checked(false).VariableWithValue(name, value)
		}
	}
	return nil
}

// FoldCheckpointPath joins a fold directory with one of the checkpoint
// names.
func FoldCheckpointPath(foldDir, name string) string { return path.Join(foldDir, name) }
