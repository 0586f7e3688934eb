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
	"errors"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/require"
)

func TestAppendErrIgnoresNil(t *testing.T) {
	var merr *multierror.Error
	merr = appendErr(merr, nil)
	require.Nil(t, merr)
}

func TestAppendErrAccumulates(t *testing.T) {
	var merr *multierror.Error
	merr = appendErr(merr, errors.New("first"))
	merr = appendErr(merr, errors.New("second"))
	require.Len(t, merr.Errors, 2)
	require.Contains(t, merr.Error(), "first")
	require.Contains(t, merr.Error(), "second")
}
