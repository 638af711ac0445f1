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

package maskface

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// MaskLabel describes whether (and how) a mask is worn in the photo.
type MaskLabel int32

const (
	MaskWear MaskLabel = iota
	MaskIncorrect
	MaskNotWear
	NumMaskLabels = 3
)

func (l MaskLabel) String() string {
	switch l {
	case MaskWear:
		return "Wear"
	case MaskIncorrect:
		return "Incorrect"
	case MaskNotWear:
		return "NotWear"
	}
	return "Unknown"
}

// GenderLabel of the photographed person.
type GenderLabel int32

const (
	GenderMale GenderLabel = iota
	GenderFemale
	NumGenderLabels = 2
)

func (l GenderLabel) String() string {
	switch l {
	case GenderMale:
		return "Male"
	case GenderFemale:
		return "Female"
	}
	return "Unknown"
}

// GenderFromString parses the gender component of a profile directory name.
func GenderFromString(value string) (GenderLabel, error) {
	switch value {
	case "male":
		return GenderMale, nil
	case "female":
		return GenderFemale, nil
	}
	return -1, errors.Errorf("invalid gender %q, expected \"male\" or \"female\"", value)
}

// AgeGroup is the age band the person falls into.
type AgeGroup int32

const (
	AgeUnder30 AgeGroup = iota
	AgeBetween30And60
	AgeOver60
	NumAgeGroups = 3
)

func (l AgeGroup) String() string {
	switch l {
	case AgeUnder30:
		return "<30"
	case AgeBetween30And60:
		return ">=30, <60"
	case AgeOver60:
		return ">=60"
	}
	return "Unknown"
}

// AgeGroupFromYears maps a person's age in years to its band.
func AgeGroupFromYears(age int) AgeGroup {
	switch {
	case age < 30:
		return AgeUnder30
	case age < 60:
		return AgeBetween30And60
	default:
		return AgeOver60
	}
}

// NumClasses is the size of the combined multi-class label space:
// 3 mask states x 2 genders x 3 age bands.
const NumClasses = NumMaskLabels * NumGenderLabels * NumAgeGroups

// EncodeClass combines the three sub-labels into a single multi-class index
// in [0, NumClasses). It is a bijection, see DecodeClass.
func EncodeClass(mask MaskLabel, gender GenderLabel, age AgeGroup) int32 {
	return int32(mask)*NumGenderLabels*NumAgeGroups + int32(gender)*NumAgeGroups + int32(age)
}

// DecodeClass splits a multi-class index back into its three sub-labels.
// It is the inverse of EncodeClass.
func DecodeClass(class int32) (mask MaskLabel, gender GenderLabel, age AgeGroup) {
	if class < 0 || class >= NumClasses {
		exceptions.Panicf("multi-class label %d out of range [0, %d)", class, NumClasses)
	}
	mask = MaskLabel(class / (NumGenderLabels * NumAgeGroups))
	gender = GenderLabel((class / NumAgeGroups) % NumGenderLabels)
	age = AgeGroup(class % NumAgeGroups)
	return
}
