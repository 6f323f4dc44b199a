// Copyright (c) 2015-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package prompt asks interactive questions on a terminal.
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// List prompts with the given prefix, list of valid responses and default
// entry, repeating the prompt until a valid response is read. Replies are
// matched case insensitively.
func List(reader *bufio.Reader, w io.Writer, prefix string,
	validResponses []string, defaultEntry string) (string, error) {

	validStrings := strings.Join(validResponses, "/")
	prompt := fmt.Sprintf("%s (%s): ", prefix, validStrings)
	if defaultEntry != "" {
		prompt = fmt.Sprintf("%s (%s) [%s]: ", prefix, validStrings,
			defaultEntry)
	}

	for {
		fmt.Fprint(w, prompt)

		reply, err := reader.ReadString('\n')
		if err != nil && (err != io.EOF || reply == "") {
			return "", err
		}

		reply = strings.TrimSpace(strings.ToLower(reply))
		if reply == "" {
			reply = defaultEntry
		}

		for _, validResponse := range validResponses {
			if reply == validResponse {
				return reply, nil
			}
		}

		// A final line without newline that is still invalid would
		// prompt forever.
		if err == io.EOF {
			return "", err
		}
	}
}

// Confirm prompts for a yes/no answer, defaulting to no.
func Confirm(reader *bufio.Reader, w io.Writer, prefix string) (bool, error) {
	valid := []string{"n", "no", "y", "yes"}

	response, err := List(reader, w, prefix, valid, "no")
	if err != nil {
		return false, err
	}

	return response == "yes" || response == "y", nil
}
