package fieldlog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"strconv"
	"strings"
)

const (
	// ThickMarker opens and closes the major sections of a field log.
	ThickMarker = "============="
	// ThinMarker separates headers inside a section.
	ThinMarker = "-------------"

	amplitudeMarker = "Amplitude"
	beamMarker      = "Time"

	// CentimetersToMillimeters converts logged amplitudes into millimetres.
	CentimetersToMillimeters = 10.0

	amplitudeMinThick = 4
	amplitudeThin     = 1
	beamMinThick      = 6

	maxLineSize = 1 << 20
)

// State is the position of the parser inside a field log.
type State int

const (
	StateSeeking State = iota
	StateReadingAmplitude
	StateReadingBeam
	StateDone
)

func (s State) String() string {
	switch s {
	case StateSeeking:
		return "seeking"
	case StateReadingAmplitude:
		return "reading_amplitude"
	case StateReadingBeam:
		return "reading_beam"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Parser reads field logs. The zero value is not usable; use NewParser.
type Parser struct {
	unitScale float64
}

// NewParser constructs a parser multiplying amplitudes by unitScale.
// A non-positive scale falls back to CentimetersToMillimeters.
func NewParser(unitScale float64) *Parser {
	if unitScale <= 0 {
		unitScale = CentimetersToMillimeters
	}
	return &Parser{unitScale: unitScale}
}

// ReadFile opens and parses the field log at path.
func (p *Parser) ReadFile(path string) (Field, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Field{}, fmt.Errorf("%w: %s", ErrMissingSource, path)
		}
		return Field{}, fmt.Errorf("open field log: %w", err)
	}
	defer file.Close()

	field, err := p.Parse(file)
	if err != nil {
		return Field{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return field, nil
}

// Parse scans r once, top to bottom. Reading stops at the first blank line
// of the beam section; anything after it is ignored.
func (p *Parser) Parse(r io.Reader) (Field, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	m := machine{unitScale: p.unitScale}
	for scanner.Scan() {
		m.lineNo++
		if err := m.feed(scanner.Text()); err != nil {
			return Field{}, err
		}
		if m.state == StateDone {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return Field{}, &LineError{Line: m.lineNo + 1, Err: fmt.Errorf("line exceeds %d bytes", maxLineSize)}
		}
		return Field{}, fmt.Errorf("scan field log: %w", err)
	}
	return m.field, nil
}

// machine carries the separator counters that drive state transitions.
type machine struct {
	unitScale float64
	thick     int
	thin      int
	lineNo    int
	state     State
	field     Field
}

func (m *machine) amplitudeWindow() bool {
	return m.thick >= amplitudeMinThick && m.thin == amplitudeThin
}

func (m *machine) beamWindow() bool {
	return m.thick >= beamMinThick
}

func (m *machine) feed(line string) error {
	if strings.Contains(line, ThickMarker) {
		m.thick++
	}
	if strings.Contains(line, ThinMarker) {
		m.thin++
	}

	// Separator counts only grow, so a closed amplitude window never reopens.
	if m.state == StateReadingAmplitude && !m.amplitudeWindow() {
		m.state = StateSeeking
	}

	switch m.state {
	case StateReadingAmplitude:
		if line == "" {
			m.state = StateSeeking
			return nil
		}
		t, raw, err := m.pair(line)
		if err != nil {
			return err
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return &LineError{Line: m.lineNo, Text: line, Err: err}
		}
		scaled := v * m.unitScale
		if !isFinite(scaled) {
			return &LineError{Line: m.lineNo, Text: line, Err: errNonFinite}
		}
		m.field.Amplitude.append(t, scaled)
	case StateReadingBeam:
		if line == "" {
			m.state = StateDone
			return nil
		}
		t, s, err := m.pair(line)
		if err != nil {
			return err
		}
		state, err := strconv.Atoi(s)
		if err != nil {
			return &LineError{Line: m.lineNo, Text: line, Err: err}
		}
		m.field.Beam = append(m.field.Beam, BeamEvent{Time: t, State: BeamState(state)})
	case StateSeeking:
		switch {
		case m.beamWindow() && strings.Contains(line, beamMarker):
			m.state = StateReadingBeam
		case m.amplitudeWindow() && strings.Contains(line, amplitudeMarker):
			m.state = StateReadingAmplitude
		}
	}
	return nil
}

// pair splits a data line into its parsed time and the raw second column.
func (m *machine) pair(line string) (float64, string, error) {
	parts := strings.Split(strings.TrimSpace(line), "\t")
	if len(parts) != 2 {
		return 0, "", &LineError{Line: m.lineNo, Text: line, Err: fmt.Errorf("expected 2 tab separated columns, got %d", len(parts))}
	}
	t, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, "", &LineError{Line: m.lineNo, Text: line, Err: err}
	}
	if !isFinite(t) {
		return 0, "", &LineError{Line: m.lineNo, Text: line, Err: errNonFinite}
	}
	return t, strings.TrimSpace(parts[1]), nil
}

var errNonFinite = errors.New("value is not a finite number")

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
