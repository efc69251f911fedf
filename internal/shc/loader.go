package shc

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"
)

// File name suffixes and the shortest base name accepted for each.
const (
	CoreSuffix          = "core.shc"
	ExtrapolationSuffix = "extrapolated.shc"
	CrustSuffix         = "static.shc"

	minCoreNameLength          = 18
	minExtrapolationNameLength = 31
	minCrustNameLength         = 20
)

// Load searches dir recursively for the core, extrapolated and static
// coefficient files and parses all three.
func Load(dir string) (*Coefficients, error) {
	paths, err := findFiles(dir)
	if err != nil {
		return nil, err
	}

	core, err := ReadFile(paths.core)
	if err != nil {
		return nil, err
	}
	ext, err := ReadFile(paths.extrapolation)
	if err != nil {
		return nil, err
	}
	crust, err := ReadFile(paths.crust)
	if err != nil {
		return nil, err
	}

	return &Coefficients{Core: core, Extrapolation: ext, Crust: crust}, nil
}

type modelFiles struct {
	core, extrapolation, crust string
}

func findFiles(dir string) (modelFiles, error) {
	var found []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		return modelFiles{}, fmt.Errorf("%w: %s: %v", ErrDirectoryRead, dir, err)
	}
	sort.Strings(found)

	var files modelFiles
	for _, path := range found {
		name := filepath.Base(path)
		switch {
		case files.core == "" && len(name) >= minCoreNameLength && strings.HasSuffix(name, CoreSuffix):
			files.core = path
		case files.extrapolation == "" && len(name) >= minExtrapolationNameLength && strings.HasSuffix(name, ExtrapolationSuffix):
			files.extrapolation = path
		case files.crust == "" && len(name) >= minCrustNameLength && strings.HasSuffix(name, CrustSuffix):
			files.crust = path
		}
	}

	var missing []string
	if files.core == "" {
		missing = append(missing, "*"+CoreSuffix)
	}
	if files.extrapolation == "" {
		missing = append(missing, "*"+ExtrapolationSuffix)
	}
	if files.crust == "" {
		missing = append(missing, "*"+CrustSuffix)
	}
	if len(missing) > 0 {
		return files, fmt.Errorf("%w in %s: %s", ErrMissingFile, dir, strings.Join(missing, ", "))
	}
	return files, nil
}

// ReadFile parses one SHC file.
func ReadFile(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileRead, err)
	}
	set, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	set.Path = path
	set.Checksum = xxh3.Hash(data)
	return set, nil
}

// Parse reads SHC text: '#' info lines, a header of five integers
// (minimum degree, maximum degree, number of epochs, spline order, spline
// steps), the epochs, then rows of "degree order value...". A negative
// order marks an h row.
func Parse(r io.Reader) (*Set, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var info strings.Builder
	var header []string
	var tokens []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			if header == nil && info.Len()+len(line)+1 <= maxInfoBytes {
				info.WriteString(line)
				info.WriteByte('\n')
			}
			continue
		}
		if header == nil {
			header = strings.Fields(line)
			continue
		}
		tokens = append(tokens, strings.Fields(line)...)
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, fmt.Errorf("%w: line longer than %d bytes", ErrFileContents, maxLineBytes)
		}
		return nil, fmt.Errorf("%w: %v", ErrFileRead, err)
	}

	if len(header) < 5 {
		return nil, fmt.Errorf("%w: header needs 5 integers, got %d fields", ErrFileContents, len(header))
	}
	var hdr [5]int
	for i := range hdr {
		v, err := strconv.Atoi(header[i])
		if err != nil {
			return nil, fmt.Errorf("%w: header field %d %q: %v", ErrFileContents, i+1, header[i], err)
		}
		hdr[i] = v
	}
	minDegree, maxDegree, nTimes := hdr[0], hdr[1], hdr[2]
	if minDegree < 1 || maxDegree < minDegree {
		return nil, fmt.Errorf("%w: degree range %d..%d", ErrFileContents, minDegree, maxDegree)
	}
	if nTimes < 1 {
		return nil, fmt.Errorf("%w: %d epochs", ErrFileContents, nTimes)
	}

	if len(tokens) < nTimes {
		return nil, fmt.Errorf("%w: expected %d epochs, found %d values", ErrFileContents, nTimes, len(tokens))
	}
	times := make([]float64, nTimes)
	for i := range times {
		v, err := strconv.ParseFloat(tokens[i], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: epoch %d %q: %v", ErrFileContents, i, tokens[i], err)
		}
		if i > 0 && v <= times[i-1] {
			return nil, fmt.Errorf("%w: epochs not increasing at index %d", ErrFileContents, i)
		}
		times[i] = v
	}
	tokens = tokens[nTimes:]

	set := NewSet(minDegree, maxDegree, times)
	set.Info = info.String()
	set.SplineOrder = hdr[3]
	set.SplineSteps = hdr[4]

	rowLen := 2 + nTimes
	seenG := make(map[[2]int]bool)
	seenH := make(map[[2]int]bool)
	series := make([]float64, nTimes)
	for len(tokens) > 0 {
		if len(tokens) < rowLen {
			return nil, fmt.Errorf("%w: truncated coefficient row after %d terms", ErrFileContents, set.GCoeffs+set.HCoeffs)
		}
		n, err := strconv.Atoi(tokens[0])
		if err != nil {
			return nil, fmt.Errorf("%w: degree %q: %v", ErrFileContents, tokens[0], err)
		}
		m, err := strconv.Atoi(tokens[1])
		if err != nil {
			return nil, fmt.Errorf("%w: order %q: %v", ErrFileContents, tokens[1], err)
		}
		order := m
		if order < 0 {
			order = -order
		}
		if n < minDegree || n > maxDegree || order > n {
			return nil, fmt.Errorf("%w: term (%d, %d) outside degree range %d..%d", ErrFileContents, n, m, minDegree, maxDegree)
		}
		for k := 0; k < nTimes; k++ {
			v, err := strconv.ParseFloat(tokens[2+k], 64)
			if err != nil {
				return nil, fmt.Errorf("%w: term (%d, %d) value %q: %v", ErrFileContents, n, m, tokens[2+k], err)
			}
			series[k] = v
		}

		key := [2]int{n, order}
		if m >= 0 {
			if seenG[key] {
				return nil, fmt.Errorf("%w: duplicate g term (%d, %d)", ErrFileContents, n, m)
			}
			seenG[key] = true
			set.SetG(n, order, series)
			set.GCoeffs++
		} else {
			if seenH[key] {
				return nil, fmt.Errorf("%w: duplicate h term (%d, %d)", ErrFileContents, n, order)
			}
			seenH[key] = true
			set.SetH(n, order, series)
			set.HCoeffs++
		}
		tokens = tokens[rowLen:]
	}

	want := ExpectedTerms(minDegree, maxDegree)
	if got := set.GCoeffs + set.HCoeffs; got != want {
		return nil, fmt.Errorf("%w: read %d terms, want %d for degrees %d..%d", ErrNumberOfCoefficients, got, want, minDegree, maxDegree)
	}
	return set, nil
}
