// SPDX-License-Identifier: Apache-2.0

package migrate

import (
	"bufio"
	"hash/crc32"
	"strings"
)

// Checksum computes a Flyway-compatible CRC32 of body: the file is iterated
// line by line with CRLF/LF line terminators normalized to "\n" before
// hashing, so byte-identical content with different line endings produces
// the same checksum. Trailing empty lines are not special-cased; they
// contribute a normalized "\n" like any other line.
func Checksum(body string) int32 {
	crc := crc32.NewIEEE()

	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024*16)
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		crc.Write([]byte(line))
		crc.Write([]byte("\n"))
	}

	return int32(crc.Sum32())
}
