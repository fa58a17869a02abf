package batch

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/blacksoil/HomographyAnalyzer/internal/common"
	"github.com/blacksoil/HomographyAnalyzer/internal/homography"
	"github.com/blacksoil/HomographyAnalyzer/internal/pipeline"
)

// Target statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Info summarizes one batch run. It is written as YAML to the info file.
type Info struct {
	Workspace          string        `yaml:"workspace,omitempty" json:"workspace,omitempty"`
	Reference          string        `yaml:"reference" json:"reference"`
	KeypointsReference int           `yaml:"keypoints_reference" json:"keypoints_reference"`
	Detector           string        `yaml:"detector" json:"detector"`
	Descriptor         string        `yaml:"descriptor" json:"descriptor"`
	Metric             string        `yaml:"metric" json:"metric"`
	RansacThreshold    float64       `yaml:"ransac_threshold" json:"ransac_threshold"`
	StartedAt          time.Time     `yaml:"started_at" json:"started_at"`
	Duration           time.Duration `yaml:"duration" json:"duration_ns"`
	Succeeded          int           `yaml:"succeeded" json:"succeeded"`
	Failed             int           `yaml:"failed" json:"failed"`
	Targets            []TargetInfo  `yaml:"targets" json:"targets"`
}

// TargetInfo is the per-target entry of Info.
type TargetInfo struct {
	Name            string      `yaml:"name" json:"name"`
	File            string      `yaml:"file" json:"file"`
	Status          string      `yaml:"status" json:"status"`
	ErrorKind       string      `yaml:"error_kind,omitempty" json:"error_kind,omitempty"`
	Error           string      `yaml:"error,omitempty" json:"error,omitempty"`
	Keypoints       int         `yaml:"keypoints" json:"keypoints"`
	Correspondences int         `yaml:"correspondences" json:"correspondences"`
	Inliers         int         `yaml:"inliers" json:"inliers"`
	InlierRatio     float64     `yaml:"inlier_ratio" json:"inlier_ratio"`
	RMSE            float64     `yaml:"rmse" json:"rmse"`
	Iterations      int         `yaml:"iterations" json:"iterations"`
	Homography      [][]float64 `yaml:"homography,omitempty,flow" json:"homography,omitempty"`
	Artifacts       []string    `yaml:"artifacts,omitempty" json:"artifacts,omitempty"`
	DurationMS      int64       `yaml:"duration_ms" json:"duration_ms"`
}

// NewInfo starts the summary of a run of reg against the prepared reference.
func NewInfo(reg *pipeline.Registrar, ref *pipeline.Reference, reference string, targets int) *Info {
	pc := reg.Config()
	return &Info{
		Reference:          reference,
		KeypointsReference: len(ref.Keypoints),
		Detector:           pc.Detector.String(),
		Descriptor:         pc.Descriptor.String(),
		Metric:             pc.EffectiveMetric().String(),
		RansacThreshold:    pc.Homography.Threshold,
		StartedAt:          time.Now().UTC(),
		Targets:            make([]TargetInfo, targets),
	}
}

// Tally counts succeeded and failed targets.
func (info *Info) Tally() {
	info.Succeeded, info.Failed = 0, 0
	for _, t := range info.Targets {
		if t.Status == StatusOK {
			info.Succeeded++
		} else {
			info.Failed++
		}
	}
}

// NewTargetInfo summarizes one Outcome. file is the source path of the target.
func NewTargetInfo(o pipeline.Outcome, file string) TargetInfo {
	ti := TargetInfo{Name: o.Name, File: file, Status: StatusOK}
	if o.Err != nil {
		ti.Status = StatusFailed
		ti.ErrorKind = common.ErrorKind(o.Err)
		ti.Error = o.Err.Error()
	}
	res := o.Result
	if res == nil {
		return ti
	}
	ti.Keypoints = len(res.Keypoints)
	ti.Correspondences = len(res.Correspondences)
	ti.DurationMS = res.Timings.Total().Milliseconds()
	if est := res.Estimate; est != nil {
		ti.Inliers = est.Inliers
		ti.InlierRatio = est.InlierRatio()
		ti.RMSE = est.RMSE
		ti.Iterations = est.Iterations
		ti.Homography = matrixRows(est.Matrix)
	}
	return ti
}

func matrixRows(m homography.Matrix) [][]float64 {
	return [][]float64{
		{m[0], m[1], m[2]},
		{m[3], m[4], m[5]},
		{m[6], m[7], m[8]},
	}
}

// WriteInfo writes info as YAML to path.
func WriteInfo(path string, info *Info) error {
	data, err := yaml.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode info: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create info directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write info %s: %w", path, err)
	}
	return nil
}

// ReadInfo reads an info file written by WriteInfo.
func ReadInfo(path string) (*Info, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is the workspace info file chosen by the user
	if err != nil {
		return nil, fmt.Errorf("read info %s: %w", path, err)
	}
	var info Info
	if err := yaml.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("decode info %s: %w", path, err)
	}
	return &info, nil
}
