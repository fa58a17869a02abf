package batch

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FormatInfo renders info as text, json or csv. Unknown formats fall back to text.
func FormatInfo(info *Info, format string) (string, error) {
	switch format {
	case "json":
		return formatJSON(info)
	case "csv":
		return formatCSV(info)
	default:
		return formatText(info), nil
	}
}

func formatJSON(info *Info) (string, error) {
	bts, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return "", err
	}
	return string(bts) + "\n", nil
}

var csvHeader = []string{
	"name", "file", "status", "error_kind", "keypoints", "correspondences", "inliers",
	"inlier_ratio", "rmse", "iterations", "h11", "h12", "h13", "h21", "h22", "h23", "h31", "h32", "h33",
}

func formatCSV(info *Info) (string, error) {
	var output strings.Builder
	writer := csv.NewWriter(&output)
	if err := writer.Write(csvHeader); err != nil {
		return "", err
	}
	for _, t := range info.Targets {
		row := []string{
			t.Name,
			t.File,
			t.Status,
			t.ErrorKind,
			strconv.Itoa(t.Keypoints),
			strconv.Itoa(t.Correspondences),
			strconv.Itoa(t.Inliers),
			fmt.Sprintf("%.4f", t.InlierRatio),
			fmt.Sprintf("%.4f", t.RMSE),
			strconv.Itoa(t.Iterations),
		}
		for r := range 3 {
			for c := range 3 {
				if len(t.Homography) == 3 && len(t.Homography[r]) == 3 {
					row = append(row, strconv.FormatFloat(t.Homography[r][c], 'g', 8, 64))
				} else {
					row = append(row, "")
				}
			}
		}
		if err := writer.Write(row); err != nil {
			return "", err
		}
	}
	writer.Flush()
	return output.String(), writer.Error()
}

func formatText(info *Info) string {
	var b strings.Builder
	fmt.Fprintf(&b, "reference: %s (%d keypoints)\n", info.Reference, info.KeypointsReference)
	fmt.Fprintf(&b, "detector=%s descriptor=%s metric=%s ransac_threshold=%g\n",
		info.Detector, info.Descriptor, info.Metric, info.RansacThreshold)
	for _, t := range info.Targets {
		b.WriteString("\n")
		fmt.Fprintf(&b, "# %s\n", t.Name)
		if t.Status != StatusOK {
			fmt.Fprintf(&b, "  status: %s (%s)\n", t.Status, t.ErrorKind)
			fmt.Fprintf(&b, "  error: %s\n", t.Error)
			if t.Correspondences > 0 {
				fmt.Fprintf(&b, "  correspondences: %d\n", t.Correspondences)
			}
			continue
		}
		fmt.Fprintf(&b, "  keypoints: %d  correspondences: %d  inliers: %d (%.1f%%)  rmse: %.3f\n",
			t.Keypoints, t.Correspondences, t.Inliers, 100*t.InlierRatio, t.RMSE)
		for _, row := range t.Homography {
			fmt.Fprintf(&b, "  [%12.6g %12.6g %12.6g]\n", row[0], row[1], row[2])
		}
	}
	fmt.Fprintf(&b, "\n%d succeeded, %d failed in %v\n", info.Succeeded, info.Failed, info.Duration.Round(time.Millisecond))
	return b.String()
}
