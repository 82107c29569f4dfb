package commands

import (
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/regbus/regbus-go/pkg/log"
)

// Stdin is the path argument that reads a capture from standard input.
const Stdin = "-"

var stdin io.Reader = os.Stdin

func openCapture(path string, filter log.Filter) (*log.Reader, error) {
	if path == Stdin {
		return log.NewStreamReader(stdin, filter)
	}
	return log.NewFilteredReader(path, filter)
}

// ParseDestinationFlag parses a mux destination id, decimal or 0x-prefixed.
func ParseDestinationFlag(s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid destination: %s (must be 0-255)", s)
	}
	return uint8(v), nil
}

var (
	layerNames = map[string]log.Layer{
		"transport":   log.LayerTransport,
		"register":    log.LayerRegister,
		"reliability": log.LayerReliability,
		"mux":         log.LayerMux,
	}
	directionNames = map[string]log.Direction{
		"in":  log.DirectionIn,
		"out": log.DirectionOut,
	}
	categoryNames = map[string]log.Category{
		"frame":   log.CategoryFrame,
		"segment": log.CategorySegment,
		"state":   log.CategoryState,
		"error":   log.CategoryError,
	}
)

// lookupName resolves s against names, ignoring case.
func lookupName[T comparable](kind string, names map[string]T, s string) (T, error) {
	if v, ok := names[strings.ToLower(s)]; ok {
		return v, nil
	}
	valid := slices.Sorted(maps.Keys(names))
	var zero T
	return zero, fmt.Errorf("invalid %s: %q (one of %s)", kind, s, strings.Join(valid, ", "))
}

// ParseLayerFlag parses a -layer value, ignoring case.
func ParseLayerFlag(s string) (log.Layer, error) {
	return lookupName("layer", layerNames, s)
}

// ParseDirectionFlag parses a -direction value, ignoring case.
func ParseDirectionFlag(s string) (log.Direction, error) {
	return lookupName("direction", directionNames, s)
}

// ParseCategoryFlag parses a -category value, ignoring case.
func ParseCategoryFlag(s string) (log.Category, error) {
	return lookupName("category", categoryNames, s)
}
