package pccc

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// The address grammar is an ordered list of rules. The first rule whose
// pattern matches AND whose captured fields pass their bounds checks
// wins. A rule that matches syntactically but fails bounds does not stop
// the scan; parsing falls through to the next rule.
var (
	reTimerCounterBit = regexp.MustCompile(`(?i)([CT])(\d{1,3}):(\d{1,3})\.(ACC|PRE|EN|DN|TT|CU|CD|OV|UN|UA)`)
	reWordFile        = regexp.MustCompile(`(?i)([LFBN])(\d{1,3}):(\d{1,3})(?:/(\d{1,2}))?(\{(\d+)\})?`)
	reIOFile          = regexp.MustCompile(`(?i)([IO]):(\d{1,3})\.(\d{1,3})(?:/(\d{1,2}))?(\{(\d+)\})?`)
	reStringFile      = regexp.MustCompile(`(?i)(ST)(\d{1,3}):(\d{1,4})(\{([12])\})?`)
	reAsciiFile       = regexp.MustCompile(`(?i)(A)(\d{1,3}):(\d{1,4})(\{(\d+)\})?`)
	reStatusFile      = regexp.MustCompile(`(?i)(S):(\d{1,3})(?:/(\d{1,2}))?(\{(\d+)\})?`)
	reBinaryBit       = regexp.MustCompile(`(?i)(B)(\d{1,3})/(\d{1,4})(\{(\d+)\})?`)
)

var parseRules = []func(string) *TagAddress{
	parseTimerCounterBit,
	parseWordFile,
	parseIOFile,
	parseStringFile,
	parseAsciiFile,
	parseStatusFile,
	parseBinaryBit,
}

// ParseTag parses a data table address like "N7:0", "T4:0.ACC", "B3/20"
// or "F8:2{10}" into its structured form. The element count is capped
// so the addressed data fits the one-byte request size field.
func ParseTag(address string) (*TagAddress, error) {
	for _, rule := range parseRules {
		if ta := rule(address); ta != nil {
			if size := ta.FileType.DataSize() * ta.ElementCount; size > maxRequestBytes {
				return nil, fmt.Errorf("%w: %q: %d bytes exceeds the request size field", ErrAddressSyntax, address, size)
			}
			return ta, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrAddressSyntax, address)
}

// atoi converts a digits-only capture. The regexps guarantee the input
// is numeric, so conversion failure cannot happen in practice.
func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// parseCount validates an optional brace-suffixed count capture.
// Returns -1 for a count that violates element_count >= 1.
func parseCount(s string) int {
	if s == "" {
		return 1
	}
	n := atoi(s)
	if n < 1 {
		return -1
	}
	return n
}

// canonicalTag strips the count token from the matched text so the
// result echo key stays stable across different counts.
func canonicalTag(match, countToken string) string {
	if countToken == "" {
		return match
	}
	return strings.TrimSuffix(match, countToken)
}

// T4:0.ACC, C5:3.DN and friends.
func parseTimerCounterBit(s string) *TagAddress {
	m := reTimerCounterBit.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	file, elem := atoi(m[2]), atoi(m[3])
	if file < 1 || file > 255 || elem > 255 {
		return nil
	}
	return &TagAddress{
		Tag:           m[0],
		FileType:      FileType(strings.ToUpper(m[1])),
		FileNumber:    file,
		ElementNumber: elem,
		SubElement:    ctFieldBits[strings.ToUpper(m[4])],
		AddressField:  3,
		ElementCount:  1,
	}
}

// N7:0, L9:2, F8:1{4}, B3:5/12.
func parseWordFile(s string) *TagAddress {
	m := reWordFile.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	file, elem := atoi(m[2]), atoi(m[3])
	if file < 1 || file > 255 || elem > 255 {
		return nil
	}
	count := parseCount(m[6])
	if count < 1 {
		return nil
	}
	ta := &TagAddress{
		Tag:           canonicalTag(m[0], m[5]),
		FileType:      FileType(strings.ToUpper(m[1])),
		FileNumber:    file,
		ElementNumber: elem,
		SubElement:    -1,
		AddressField:  2,
		ElementCount:  count,
	}
	if m[4] != "" {
		bit := atoi(m[4])
		if bit > 15 {
			return nil
		}
		ta.SubElement = bit
		ta.AddressField = 3
	}
	return ta
}

// I:1.0, O:3.1/2. File number is fixed at 0 for the I/O files.
func parseIOFile(s string) *TagAddress {
	m := reIOFile.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	elem, pos := atoi(m[2]), atoi(m[3])
	if elem > 255 || pos > 255 {
		return nil
	}
	count := parseCount(m[6])
	if count < 1 {
		return nil
	}
	ta := &TagAddress{
		Tag:           canonicalTag(m[0], m[5]),
		FileType:      FileType(strings.ToUpper(m[1])),
		FileNumber:    0,
		ElementNumber: elem,
		PosNumber:     pos,
		SubElement:    -1,
		AddressField:  2,
		ElementCount:  count,
	}
	if m[4] != "" {
		bit := atoi(m[4])
		if bit > 15 {
			return nil
		}
		ta.SubElement = bit
		ta.AddressField = 3
	}
	return ta
}

// ST9:0, optionally with a {1} or {2} count.
func parseStringFile(s string) *TagAddress {
	m := reStringFile.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	file, elem := atoi(m[2]), atoi(m[3])
	if file < 1 || file > 255 || elem > 255 {
		return nil
	}
	count := parseCount(m[5])
	if count < 1 {
		return nil
	}
	return &TagAddress{
		Tag:           canonicalTag(m[0], m[4]),
		FileType:      FileString,
		FileNumber:    file,
		ElementNumber: elem,
		SubElement:    -1,
		AddressField:  2,
		ElementCount:  count,
	}
}

// A10:5, A10:5{20}.
func parseAsciiFile(s string) *TagAddress {
	m := reAsciiFile.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	file, elem := atoi(m[2]), atoi(m[3])
	if file < 1 || file > 255 || elem > 255 {
		return nil
	}
	count := parseCount(m[5])
	if count < 1 {
		return nil
	}
	return &TagAddress{
		Tag:           canonicalTag(m[0], m[4]),
		FileType:      FileASCII,
		FileNumber:    file,
		ElementNumber: elem,
		SubElement:    -1,
		AddressField:  2,
		ElementCount:  count,
	}
}

// S:1, S:1/15. The system status file is always file number 2.
func parseStatusFile(s string) *TagAddress {
	m := reStatusFile.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	elem := atoi(m[2])
	if elem > 255 {
		return nil
	}
	count := parseCount(m[5])
	if count < 1 {
		return nil
	}
	ta := &TagAddress{
		Tag:           canonicalTag(m[0], m[4]),
		FileType:      FileStatus,
		FileNumber:    2,
		ElementNumber: elem,
		SubElement:    -1,
		AddressField:  2,
		ElementCount:  count,
	}
	if m[3] != "" {
		bit := atoi(m[3])
		if bit > 15 {
			return nil
		}
		ta.SubElement = bit
		ta.AddressField = 3
	}
	return ta
}

// B3/20 addresses a binary file by absolute bit offset. The element is
// the bit offset divided by 16 and the sub-element is the remainder.
func parseBinaryBit(s string) *TagAddress {
	m := reBinaryBit.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	file, off := atoi(m[2]), atoi(m[3])
	if file < 1 || file > 255 || off > 4095 {
		return nil
	}
	count := parseCount(m[5])
	if count < 1 {
		return nil
	}
	return &TagAddress{
		Tag:           canonicalTag(m[0], m[4]),
		FileType:      FileBinary,
		FileNumber:    file,
		ElementNumber: off / 16,
		SubElement:    off % 16,
		AddressField:  3,
		ElementCount:  count,
	}
}
