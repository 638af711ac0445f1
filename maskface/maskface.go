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

// Package maskface implements the face-attributes dataset: photos of people
// organized in per-person profile directories, each photo labeled by mask
// state, gender and age band. The three sub-labels are combined into one
// multi-class label (see EncodeClass) used for training and stratification.
package maskface

import (
	"math/rand"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// maskStems maps the file base name (without extension) of each photo in a
// profile directory to its mask label.
var maskStems = map[string]MaskLabel{
	"mask1":          MaskWear,
	"mask2":          MaskWear,
	"mask3":          MaskWear,
	"mask4":          MaskWear,
	"mask5":          MaskWear,
	"incorrect_mask": MaskIncorrect,
	"normal":         MaskNotWear,
}

// Record is one labeled photo.
type Record struct {
	Path    string
	Profile string
	Mask    MaskLabel
	Gender  GenderLabel
	Age     AgeGroup
	Class   int32
}

// Dataset is an ordered collection of labeled face photos. It owns the
// records and the attached image transform; callers treat it as read-only
// except for SetTransform.
type Dataset struct {
	name    string
	baseDir string
	records []Record

	// profileDisjoint marks the split-by-profile variant: Split keeps all
	// photos of the same person on the same side of the split.
	profileDisjoint bool

	transform *BaseTransform
}

// Builders is the registry of dataset variants selectable by name from the
// configuration. Unknown names are rejected at startup (see ByName).
var Builders = map[string]func(baseDir string) (*Dataset, error){
	"maskbase":      New,
	"profile_split": NewSplitByProfile,
}

// ByName instantiates a registered dataset variant, or returns an error
// listing the valid names.
func ByName(name, baseDir string) (*Dataset, error) {
	builder, found := Builders[name]
	if !found {
		names := maps.Keys(Builders)
		sort.Strings(names)
		return nil, errors.Errorf("unknown dataset %q, valid values are %v", name, names)
	}
	return builder(baseDir)
}

// New scans baseDir for profile directories (`<id>_<gender>_<race>_<age>`)
// and builds the dataset of all labeled photos found, in deterministic
// (sorted) order.
func New(baseDir string) (*Dataset, error) {
	return scan("maskbase", baseDir, false)
}

// NewSplitByProfile is like New, but Split partitions by person instead of by
// photo, so no person appears on both sides.
func NewSplitByProfile(baseDir string) (*Dataset, error) {
	return scan("profile_split", baseDir, true)
}

func scan(name, baseDir string, profileDisjoint bool) (*Dataset, error) {
	profiles, err := os.ReadDir(baseDir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list dataset directory %q", baseDir)
	}
	ds := &Dataset{name: name, baseDir: baseDir, profileDisjoint: profileDisjoint}

	pBar := progressbar.NewOptions(len(profiles),
		progressbar.OptionSetDescription("Scanning profiles"),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("profiles"),
		progressbar.OptionSetTheme(progressbar.ThemeUnicode),
	)
	var totalBytes int64
	for _, profileEntry := range profiles {
		_ = pBar.Add(1)
		profileName := profileEntry.Name()
		if !profileEntry.IsDir() || strings.HasPrefix(profileName, ".") {
			continue
		}
		gender, age, err := parseProfileName(profileName)
		if err != nil {
			klog.Warningf("Skipping profile directory %q: %v", profileName, err)
			continue
		}
		profileDir := path.Join(baseDir, profileName)
		photos, err := os.ReadDir(profileDir)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to list profile directory %q", profileDir)
		}
		for _, photo := range photos {
			photoName := photo.Name()
			if strings.HasPrefix(photoName, ".") {
				continue
			}
			stem := strings.TrimSuffix(photoName, path.Ext(photoName))
			mask, found := maskStems[stem]
			if !found {
				continue
			}
			if info, err := photo.Info(); err == nil {
				totalBytes += info.Size()
			}
			ds.records = append(ds.records, Record{
				Path:    path.Join(profileDir, photoName),
				Profile: profileName,
				Mask:    mask,
				Gender:  gender,
				Age:     age,
				Class:   EncodeClass(mask, gender, age),
			})
		}
	}
	_ = pBar.Close()
	if len(ds.records) == 0 {
		return nil, errors.Errorf("no labeled photos found under %q", baseDir)
	}
	sort.Slice(ds.records, func(i, j int) bool { return ds.records[i].Path < ds.records[j].Path })
	klog.Infof("Dataset %q: %s photos (%s) from %q", name,
		humanize.Comma(int64(len(ds.records))), humanize.Bytes(uint64(totalBytes)), baseDir)
	return ds, nil
}

// parseProfileName splits `<id>_<gender>_<race>_<age>` into the labels this
// dataset cares about (race is recorded in the name but not used as a label).
func parseProfileName(name string) (gender GenderLabel, age AgeGroup, err error) {
	parts := strings.Split(name, "_")
	if len(parts) != 4 {
		return 0, 0, errors.Errorf("profile name %q does not match <id>_<gender>_<race>_<age>", name)
	}
	gender, err = GenderFromString(parts[1])
	if err != nil {
		return 0, 0, errors.WithMessagef(err, "profile name %q", name)
	}
	years, err := strconv.Atoi(parts[3])
	if err != nil {
		return 0, 0, errors.Errorf("profile name %q has invalid age %q", name, parts[3])
	}
	return gender, AgeGroupFromYears(years), nil
}

// Name of the dataset variant.
func (ds *Dataset) Name() string { return ds.name }

// Len is the number of photos.
func (ds *Dataset) Len() int { return len(ds.records) }

// Record returns the idx-th photo record.
func (ds *Dataset) Record(idx int) Record { return ds.records[idx] }

// ProfileDisjoint reports whether this is the split-by-profile variant.
func (ds *Dataset) ProfileDisjoint() bool { return ds.profileDisjoint }

// Classes returns the ordered multi-class label of every photo. This is the
// input to the stratified fold planner.
func (ds *Dataset) Classes() []int32 {
	classes := make([]int32, len(ds.records))
	for ii, r := range ds.records {
		classes[ii] = r.Class
	}
	return classes
}

// SetTransform attaches the image transform used when yielding batches.
func (ds *Dataset) SetTransform(transform *BaseTransform) { ds.transform = transform }

// Transform returns the attached image transform.
func (ds *Dataset) Transform() *BaseTransform { return ds.transform }

// Split partitions the sample indices into train and validation subsets with
// the given validation ratio. For the profile-disjoint variant whole profiles
// are assigned to one side; otherwise photos are assigned independently.
//
// This is a plain random split kept for parity with the dataset collaborator
// contract; the stratified fold planner (package kfold) supersedes it for
// cross-validation runs.
func (ds *Dataset) Split(valRatio float64, rng *rand.Rand) (trainIndices, valIndices []int) {
	if ds.profileDisjoint {
		profiles := make([]string, 0)
		seen := make(map[string]bool)
		for _, r := range ds.records {
			if !seen[r.Profile] {
				seen[r.Profile] = true
				profiles = append(profiles, r.Profile)
			}
		}
		rng.Shuffle(len(profiles), func(i, j int) { profiles[i], profiles[j] = profiles[j], profiles[i] })
		numVal := int(float64(len(profiles)) * valRatio)
		valProfiles := make(map[string]bool, numVal)
		for _, p := range profiles[:numVal] {
			valProfiles[p] = true
		}
		for idx, r := range ds.records {
			if valProfiles[r.Profile] {
				valIndices = append(valIndices, idx)
			} else {
				trainIndices = append(trainIndices, idx)
			}
		}
		return
	}

	perm := rng.Perm(len(ds.records))
	numVal := int(float64(len(ds.records)) * valRatio)
	valIndices = append(valIndices, perm[:numVal]...)
	trainIndices = append(trainIndices, perm[numVal:]...)
	sort.Ints(valIndices)
	sort.Ints(trainIndices)
	return
}
