// Package features detects keypoints and computes descriptors on single-channel images.
//
// Two detectors (FAST, ORB) and three descriptors (ORB, BRIEF, PATCH) are implemented
// natively. An OpenCV-backed detector is available with the build tag `gocv`:
//
//	go build -tags=gocv ./...
//
// Without the tag NewOpenCVDetector returns ErrNoOpenCV.
package features
