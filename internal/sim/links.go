package sim

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/danmuck/tina/internal/protocol"
)

var ErrTopologyFile = errors.New("sim: bad topology file")

// DefaultGainDB is the link gain written by GenerateGrid.
const DefaultGainDB = -50.0

// Link is one directed radio link: frames sent by Src are heard by Dst.
type Link struct {
	Src    protocol.NodeID
	Dst    protocol.NodeID
	GainDB float64
}

// ParseLinks reads "src dst gain" lines. Blank lines and # comments are
// skipped.
func ParseLinks(r io.Reader) ([]Link, error) {
	var links []Link
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, fmt.Errorf("%w: line %d: want 3 fields, got %d", ErrTopologyFile, lineNo, len(fields))
		}
		src, err := parseID(fields[0])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrTopologyFile, lineNo, err)
		}
		dst, err := parseID(fields[1])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrTopologyFile, lineNo, err)
		}
		gain, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: gain %q", ErrTopologyFile, lineNo, fields[2])
		}
		if src == dst {
			return nil, fmt.Errorf("%w: line %d: self link %s", ErrTopologyFile, lineNo, src)
		}
		links = append(links, Link{Src: src, Dst: dst, GainDB: gain})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return links, nil
}

func parseID(raw string) (protocol.NodeID, error) {
	v, err := strconv.ParseUint(raw, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("node id %q", raw)
	}
	if protocol.NodeID(v) == protocol.BroadcastID {
		return 0, fmt.Errorf("node id %d is the broadcast address", v)
	}
	return protocol.NodeID(v), nil
}

func LoadLinks(path string) ([]Link, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseLinks(f)
}

func WriteLinks(w io.Writer, links []Link) error {
	bw := bufio.NewWriter(w)
	for _, l := range links {
		if _, err := fmt.Fprintf(bw, "%d %d %.1f\n", l.Src, l.Dst, l.GainDB); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// GenerateGrid lays diameter*diameter nodes on a unit grid, row-major from
// id 0, and links every pair within radius in both directions.
func GenerateGrid(diameter int, radius float64, gainDB float64) ([]Link, error) {
	if diameter < 1 {
		return nil, fmt.Errorf("sim: grid diameter %d", diameter)
	}
	if diameter*diameter > int(protocol.BroadcastID) {
		return nil, fmt.Errorf("sim: grid %dx%d exceeds the node id space", diameter, diameter)
	}
	var links []Link
	for j := 0; j < diameter*diameter; j++ {
		row, col := j/diameter, j%diameter
		for x := 0; x < diameter; x++ {
			for y := 0; y < diameter; y++ {
				dist := math.Hypot(float64(x-row), float64(y-col))
				if dist > 0 && dist <= radius {
					links = append(links, Link{
						Src:    protocol.NodeID(j),
						Dst:    protocol.NodeID(x*diameter + y),
						GainDB: gainDB,
					})
				}
			}
		}
	}
	return links, nil
}
