package product

import (
	"bufio"
	"fmt"
	"io"

	"github.com/JohnathanBurchill/chaos/internal/model"
	"github.com/JohnathanBurchill/chaos/internal/propagation"
	"github.com/JohnathanBurchill/chaos/internal/residual"
	"github.com/JohnathanBurchill/chaos/internal/trace"
)

func writeNEC(w *bufio.Writer, v model.NEC) {
	fmt.Fprintf(w, "\t%.3f\t%.3f\t%.3f", v.N, v.E, v.C)
}

// WriteFieldRow writes one calculator result as tab-separated
// time, position, core, crust and total field.
func WriteFieldRow(w io.Writer, p Position, core, crust model.NEC) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%d\t%.6f\t%.6f\t%.3f", p.Time.Unix(), p.Latitude, p.Longitude, p.AltitudeKm)
	writeNEC(bw, core)
	writeNEC(bw, crust)
	writeNEC(bw, core.Add(crust))
	bw.WriteByte('\n')
	return bw.Flush()
}

// WriteResidualsText writes the processed samples of res, one tab-separated
// row per sample: time, position, core, crust, residual.
func WriteResidualsText(w io.Writer, samples []residual.Sample, res *residual.Result) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "# time\tlat\tlon\tradius_m\tcore_n\tcore_e\tcore_c\tcrust_n\tcrust_e\tcrust_c\tres_n\tres_e\tres_c")
	for i := 0; i < res.Processed; i++ {
		s := samples[i]
		fmt.Fprintf(bw, "%.3f\t%.6f\t%.6f\t%.1f", s.Time, s.Latitude, s.Longitude, s.Radius)
		writeNEC(bw, res.Core[i])
		writeNEC(bw, res.Crust[i])
		writeNEC(bw, res.Residual[i])
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// WriteTrackText writes a ground track with the field at each point.
func WriteTrackText(w io.Writer, points []propagation.Point) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "# time\tlat\tlon\tradius_km\tcore_n\tcore_e\tcore_c\tcrust_n\tcrust_e\tcrust_c")
	for _, p := range points {
		fmt.Fprintf(bw, "%d\t%.6f\t%.6f\t%.3f", p.Time.Unix(), p.Latitude, p.Longitude, p.RadiusKm)
		writeNEC(bw, p.Core)
		writeNEC(bw, p.Crust)
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// WriteFootprintsText writes "row col lat lon alt steps" per pixel.
func WriteFootprintsText(w io.Writer, results []trace.PixelResult) error {
	bw := bufio.NewWriter(w)
	for _, r := range results {
		fmt.Fprintf(bw, "%d %d %.6f %.6f %.6f %d\n", r.Row, r.Col, r.End.Latitude, r.End.Longitude, r.End.AltitudeKm, r.Steps)
	}
	return bw.Flush()
}
