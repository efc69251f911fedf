package shc

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Encode writes the set in SHC text form. Rows are emitted by increasing
// degree then order, each g row followed by its h row.
func (s *Set) Encode(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if s.Info != "" {
		bw.WriteString(s.Info)
		if !strings.HasSuffix(s.Info, "\n") {
			bw.WriteByte('\n')
		}
	}
	fmt.Fprintf(bw, "%d %d %d %d %d\n", s.MinDegree, s.MaxDegree, len(s.Times), s.SplineOrder, s.SplineSteps)
	writeRow(bw, "", s.Times)

	series := make([]float64, len(s.Times))
	for n := s.MinDegree; n <= s.MaxDegree; n++ {
		for m := 0; m <= n; m++ {
			for k := range series {
				series[k] = s.G(n, m, k)
			}
			writeRow(bw, fmt.Sprintf("%d %d", n, m), series)
			if m == 0 {
				continue
			}
			for k := range series {
				series[k] = s.H(n, m, k)
			}
			writeRow(bw, fmt.Sprintf("%d %d", n, -m), series)
		}
	}
	return bw.Flush()
}

func writeRow(w *bufio.Writer, prefix string, values []float64) {
	w.WriteString(prefix)
	for i, v := range values {
		if i > 0 || prefix != "" {
			w.WriteByte(' ')
		}
		w.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	w.WriteByte('\n')
}
