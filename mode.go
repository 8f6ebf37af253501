// SPDX-FileCopyrightText: 2026 SentinelMap Contributors
// SPDX-License-Identifier: Apache-2.0

package detectkafka

import (
	"errors"
	"fmt"
	"strings"
)

// Mode selects how the pipeline consumes its input.
type Mode string

const (
	// ModeStream processes the input incrementally: sending begins before
	// the file has been fully read and memory stays bounded by the queue.
	ModeStream Mode = "stream"

	// ModeBatch reads the entire input before any sending starts.
	ModeBatch Mode = "batch"
)

var modeTypes map[Mode]struct{}
var modeList []string

func init() {
	list := []Mode{
		ModeStream,
		ModeBatch,
	}

	modeTypes = make(map[Mode]struct{})
	for _, m := range list {
		modeTypes[m] = struct{}{}
		modeList = append(modeList, string(m))
	}
}

// validateMode validates the Mode enum value. Empty means ModeStream.
func validateMode(mode Mode) error {
	if mode == "" {
		return nil
	}

	_, ok := modeTypes[mode]
	if ok {
		return nil
	}

	list := strings.Join(modeList, "', '")
	list = "'" + list + "'"
	return errors.Join(ErrValidation,
		fmt.Errorf("mode '%s' is invalid: must be %s or empty", mode, list))
}
