package model

import (
	"bufio"
	"io"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type attrKind int

const (
	attrNumeric attrKind = iota
	attrNominal
	attrString
)

type attribute struct {
	name   string
	kind   attrKind
	values []string
}

// Frame is a loaded table: nominal/string cells are strings, numeric cells float64.
type Frame struct {
	Relation string
	Columns  []string
	Rows     []Record
}

// Dataset pairs raw records with their binary labels.
type Dataset struct {
	Rows   []Record
	Y      []int
	Target string
}

func LoadARFFFile(path string) (*Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open dataset")
	}
	defer f.Close()
	return LoadARFF(f)
}

// LoadARFF parses the dense ARFF format. Missing values ("?") are left out of the row.
func LoadARFF(r io.Reader) (*Frame, error) {
	frame := &Frame{}
	var attrs []attribute
	inData := false

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "%") {
			continue
		}

		if !inData {
			lower := strings.ToLower(line)
			switch {
			case strings.HasPrefix(lower, "@relation"):
				frame.Relation = unquote(strings.TrimSpace(line[len("@relation"):]))
			case strings.HasPrefix(lower, "@attribute"):
				a, err := parseAttribute(strings.TrimSpace(line[len("@attribute"):]))
				if err != nil {
					return nil, errors.WithMessagef(err, "line %d", lineNo)
				}
				attrs = append(attrs, a)
				frame.Columns = append(frame.Columns, a.name)
			case strings.HasPrefix(lower, "@data"):
				inData = true
			default:
				return nil, errors.Errorf("line %d: unexpected header line %q", lineNo, line)
			}
			continue
		}

		cells := splitQuoted(line, ',')
		if len(cells) != len(attrs) {
			return nil, errors.Errorf("line %d: %d values for %d attributes", lineNo, len(cells), len(attrs))
		}
		rec := make(Record, len(attrs))
		for i, a := range attrs {
			cell := unquote(strings.TrimSpace(cells[i]))
			if cell == "?" {
				continue
			}
			if a.kind == attrNumeric {
				v, err := strconv.ParseFloat(cell, 64)
				if err != nil {
					return nil, errors.Errorf("line %d: attribute %q: %q is not numeric", lineNo, a.name, cell)
				}
				rec[a.name] = v
			} else {
				rec[a.name] = cell
			}
		}
		frame.Rows = append(frame.Rows, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read dataset")
	}
	if !inData {
		return nil, errors.New("no @data section")
	}
	return frame, nil
}

func parseAttribute(s string) (attribute, error) {
	name, rest := nextToken(s)
	if name == "" {
		return attribute{}, errors.New("attribute without a name")
	}
	a := attribute{name: unquote(name)}
	rest = strings.TrimSpace(rest)

	switch {
	case strings.HasPrefix(rest, "{"):
		end := strings.LastIndex(rest, "}")
		if end < 0 {
			return attribute{}, errors.Errorf("attribute %q: unterminated nominal list", a.name)
		}
		a.kind = attrNominal
		for _, v := range splitQuoted(rest[1:end], ',') {
			a.values = append(a.values, unquote(strings.TrimSpace(v)))
		}
	default:
		switch strings.ToLower(rest) {
		case "numeric", "real", "integer":
			a.kind = attrNumeric
		case "string":
			a.kind = attrString
		default:
			return attribute{}, errors.Errorf("attribute %q: unsupported type %q", a.name, rest)
		}
	}
	return a, nil
}

// nextToken splits off the first whitespace-delimited token, honoring quotes.
func nextToken(s string) (string, string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ""
	}
	if q := s[0]; q == '\'' || q == '"' {
		for i := 1; i < len(s); i++ {
			if s[i] == '\\' {
				i++
				continue
			}
			if s[i] == q {
				return s[:i+1], s[i+1:]
			}
		}
		return s, ""
	}
	if i := strings.IndexAny(s, " \t{"); i >= 0 {
		return s[:i], s[i:]
	}
	return s, ""
}

func splitQuoted(s string, sep byte) []string {
	var out []string
	var quote byte
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' && quote != 0:
			i++
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == sep:
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		s = s[1 : len(s)-1]
		s = strings.ReplaceAll(s, `\'`, `'`)
		s = strings.ReplaceAll(s, `\"`, `"`)
	}
	return s
}

// InferTargetColumn picks "class", "target", "label" or "y" (case-insensitive), else the last column.
func InferTargetColumn(columns []string) string {
	lowered := make(map[string]string, len(columns))
	for _, c := range columns {
		lowered[strings.ToLower(c)] = c
	}
	for _, key := range []string{"class", "target", "label", "y"} {
		if c, ok := lowered[key]; ok {
			return c
		}
	}
	if len(columns) == 0 {
		return ""
	}
	return columns[len(columns)-1]
}

// ToXY keeps the schema's columns and maps the target through LabelMap.
func ToXY(f *Frame, s Schema, target string) (*Dataset, error) {
	if target == "" {
		target = s.Target
	}

	have := make(map[string]bool, len(f.Columns))
	for _, c := range f.Columns {
		have[c] = true
	}
	var missing []string
	for _, c := range append(append([]string(nil), s.Features...), target) {
		if !have[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, errors.Errorf("missing columns in dataset: %v", missing)
	}

	ds := &Dataset{Target: target, Rows: make([]Record, len(f.Rows)), Y: make([]int, len(f.Rows))}
	unknown := make(map[string]struct{})
	for i, row := range f.Rows {
		rec := make(Record, len(s.Features))
		for _, c := range s.Features {
			if v, ok := row[c]; ok {
				rec[c] = v
			}
		}
		if err := rec.Validate(s); err != nil {
			return nil, errors.WithMessagef(err, "row %d", i)
		}
		ds.Rows[i] = rec

		label, _ := row[target].(string)
		y, ok := LabelMap[label]
		if !ok {
			unknown[label] = struct{}{}
			continue
		}
		ds.Y[i] = y
	}
	if len(unknown) > 0 {
		labels := make([]string, 0, len(unknown))
		for l := range unknown {
			labels = append(labels, l)
		}
		sort.Strings(labels)
		return nil, errors.Errorf("unknown labels in target: %v, expected [%s %s]", labels, LabelGood, LabelBad)
	}
	return ds, nil
}

// StratifiedSplit shuffles each class with the given seed and moves
// round(testSize * classCount) rows of each class to the test set.
func StratifiedSplit(ds *Dataset, testSize float64, seed int64) (train, test *Dataset, err error) {
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, errors.Errorf("test size must be in (0, 1), got %v", testSize)
	}
	rng := rand.New(rand.NewSource(seed))

	byClass := map[int][]int{}
	for i, y := range ds.Y {
		byClass[y] = append(byClass[y], i)
	}

	train = &Dataset{Target: ds.Target}
	test = &Dataset{Target: ds.Target}
	for _, class := range []int{0, 1} {
		idx := byClass[class]
		rng.Shuffle(len(idx), func(a, b int) { idx[a], idx[b] = idx[b], idx[a] })
		nTest := int(float64(len(idx))*testSize + 0.5)
		for k, i := range idx {
			dst := train
			if k < nTest {
				dst = test
			}
			dst.Rows = append(dst.Rows, ds.Rows[i])
			dst.Y = append(dst.Y, ds.Y[i])
		}
	}

	if len(train.Rows) == 0 || len(test.Rows) == 0 {
		return nil, nil, errors.Errorf("split of %d rows left an empty side", len(ds.Rows))
	}
	return train, test, nil
}
