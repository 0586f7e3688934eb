// Copyright (c) 2014, Kevin Walsh.  All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ramdatalog

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// ErrNoSuchFact is returned by ProvOf when the requested goal tuple is
// not present in the solved model.
var ErrNoSuchFact = errors.New("ramdatalog: goal tuple not present in the model")

// appendErr folds err (possibly nil) into a running *multierror.Error,
// the way a batch of independently-invalid injected rows or schema
// mismatches accumulate into one reported error (spec §7's user-input
// channel) instead of aborting on the first one.
func appendErr(merr *multierror.Error, err error) *multierror.Error {
	if err == nil {
		return merr
	}
	return multierror.Append(merr, err)
}
