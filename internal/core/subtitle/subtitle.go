// Package subtitle implements the Subtitle Codec (spec §4.5): SRT
// parse/emit, and conversion of a transcript.AlignedResult into timed Cues.
//
// Grounded in the teacher's internal/core/parser/parser.go state machine
// (ExpectIndex -> ExpectTimestamp -> AccumulateText, blank line terminates),
// narrowed to SRT only: duasub never reads a pre-existing subtitle track, it
// always derives cues from ASR output, so the teacher's ASS branch has no
// caller here (see DESIGN.md).
package subtitle

import (
	"bufio"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/duasub/duasub/internal/core/transcript"
)

// Cue is one SRT entry: an index, a start/end timestamp pair, and one or
// more text lines (spec §3).
type Cue struct {
	Index     int
	StartMS   int64
	EndMS     int64
	Lines     []string
}

// Text joins a cue's lines with "\n", the form the Translator and bilingual
// emit operate on.
func (c Cue) Text() string {
	return strings.Join(c.Lines, "\n")
}

var timeRe = regexp.MustCompile(`(\d{1,2}):(\d{2}):(\d{2})[,.](\d{3})\s*-->\s*(\d{1,2}):(\d{2}):(\d{2})[,.](\d{3})`)

type parseState int

const (
	stateExpectIndex parseState = iota
	stateExpectTimestamp
	stateAccumulateText
)

// Parse consumes SRT text and returns the cues it describes. The parser is
// lenient: extra whitespace is trimmed, blank lines terminate a cue, and a
// trailing incomplete cue at EOF is flushed if all three parts (index,
// timestamp, text) are present.
func Parse(srt string) ([]Cue, error) {
	var cues []Cue
	var cur Cue
	var textLines []string
	state := stateExpectIndex
	haveIndex := false
	haveTime := false

	flush := func() {
		if haveIndex && haveTime && len(textLines) > 0 {
			cur.Lines = append([]string{}, textLines...)
			cues = append(cues, cur)
		}
		cur = Cue{}
		textLines = nil
		haveIndex = false
		haveTime = false
		state = stateExpectIndex
	}

	scanner := bufio.NewScanner(strings.NewReader(normalizeNewlines(srt)))
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		switch state {
		case stateExpectIndex:
			if line == "" {
				continue
			}
			idx, err := strconv.Atoi(line)
			if err != nil {
				// Lenient: skip garbage before the first valid index.
				continue
			}
			cur = Cue{Index: idx}
			haveIndex = true
			state = stateExpectTimestamp

		case stateExpectTimestamp:
			if line == "" {
				// No timestamp seen; reset strictly.
				flush()
				continue
			}
			m := timeRe.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			start, err1 := msFromParts(m[1], m[2], m[3], m[4])
			end, err2 := msFromParts(m[5], m[6], m[7], m[8])
			if err1 != nil || err2 != nil {
				continue
			}
			cur.StartMS = start
			cur.EndMS = end
			haveTime = true
			textLines = nil
			state = stateAccumulateText

		case stateAccumulateText:
			if line == "" {
				flush()
				continue
			}
			textLines = append(textLines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("subtitle: read error: %w", err)
	}

	// Flush a trailing cue with no terminating blank line.
	flush()

	return normalizeIndices(cues), nil
}

// normalizeIndices sorts cues by start time (ties keep their parsed index
// order) and re-numbers them densely starting at 1, per the §3 invariant ("indices are unique and dense starting at 1 after a
// normalization pass").
func normalizeIndices(cues []Cue) []Cue {
	sort.SliceStable(cues, func(i, j int) bool {
		if cues[i].StartMS != cues[j].StartMS {
			return cues[i].StartMS < cues[j].StartMS
		}
		return cues[i].Index < cues[j].Index
	})
	for i := range cues {
		cues[i].Index = i + 1
	}
	return cues
}

func msFromParts(h, m, s, ms string) (int64, error) {
	hh, err := strconv.Atoi(h)
	if err != nil {
		return 0, err
	}
	mm, err := strconv.Atoi(m)
	if err != nil {
		return 0, err
	}
	ss, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	msec, err := strconv.Atoi(ms)
	if err != nil {
		return 0, err
	}
	total := int64(hh)*3600000 + int64(mm)*60000 + int64(ss)*1000 + int64(msec)
	return total, nil
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return s
}

func formatTimestamp(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	d := time.Duration(ms) * time.Millisecond
	h := int(d / time.Hour)
	d -= time.Duration(h) * time.Hour
	m := int(d / time.Minute)
	d -= time.Duration(m) * time.Minute
	s := int(d / time.Second)
	d -= time.Duration(s) * time.Second
	msRem := int(d / time.Millisecond)
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, msRem)
}

// Emit writes cues separated by blank lines, LF-terminated, in the
// index/timestamp/text(lines)/blank shape spec §4.5 and §6 require.
func Emit(cues []Cue) string {
	var sb strings.Builder
	for _, c := range cues {
		fmt.Fprintf(&sb, "%d\n", c.Index)
		fmt.Fprintf(&sb, "%s --> %s\n", formatTimestamp(c.StartMS), formatTimestamp(c.EndMS))
		for _, line := range c.Lines {
			sb.WriteString(line)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// ConvertAlignedResult emits one cue per sentence in input order, index
// starting at 1 (spec §4.5 Convert); sentences whose text is blank produce
// no cue. Tokens are not used at cue granularity.
func ConvertAlignedResult(ar transcript.AlignedResult) []Cue {
	cues := make([]Cue, 0, len(ar.Sentences))
	for i, sent := range ar.Sentences {
		text := strings.TrimSpace(sent.Text)
		if text == "" {
			continue
		}
		cues = append(cues, Cue{
			Index:   i + 1,
			StartMS: int64(sent.StartS * 1000),
			EndMS:   int64(sent.EndS * 1000),
			Lines:   []string{text},
		})
	}
	// Re-dense indices in case empty sentences were skipped.
	for i := range cues {
		cues[i].Index = i + 1
	}
	return cues
}

// Bilingual returns new cues whose text is the original line(s) followed by
// a newline and the translation (spec §3 cache artifacts, §4.6 interface).
// Cues with an empty translation keep only the original text.
func Bilingual(original []Cue, translations []string) []Cue {
	out := make([]Cue, len(original))
	for i, c := range original {
		out[i] = Cue{Index: c.Index, StartMS: c.StartMS, EndMS: c.EndMS}
		lines := append([]string{}, c.Lines...)
		if i < len(translations) && strings.TrimSpace(translations[i]) != "" {
			lines = append(lines, translations[i])
		}
		out[i].Lines = lines
	}
	return out
}

var (
	hiBracketRe      = regexp.MustCompile(`\[[^\]]*\]`)
	hiParenRe        = regexp.MustCompile(`\([^)]*\)`)
	hiMusicNoteRe    = regexp.MustCompile(`[♪♫]`)
	hiSpeakerLabelRe = regexp.MustCompile(`(?m)^-?\s*[A-Z][A-Za-z.\s]*:\s*`)
	hiShoutLabelRe   = regexp.MustCompile(`(?m)^[A-Z]{2,}[A-Z\s]*:\s*`)
	hiMultiSpaceRe   = regexp.MustCompile(`\s{2,}`)
)

// StripHearingImpairedTags removes bracketed sound cues ("[door creaks]"),
// parenthetical asides, music-note markers, and leading speaker labels
// ("JOHN:", "- Narrator:") from ASR-derived text, collapsing the leftover
// whitespace. Applied per sentence before cue conversion when the
// RemoveHI toggle is set (spec §4.2, supplemented feature).
func StripHearingImpairedTags(text string) string {
	s := hiBracketRe.ReplaceAllString(text, "")
	s = hiParenRe.ReplaceAllString(s, "")
	s = hiMusicNoteRe.ReplaceAllString(s, "")
	s = hiSpeakerLabelRe.ReplaceAllString(s, "")
	s = hiShoutLabelRe.ReplaceAllString(s, "")
	s = hiMultiSpaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
