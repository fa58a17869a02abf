package support

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cucumber/godog"

	"github.com/blacksoil/HomographyAnalyzer/internal/imagebuf"
	"github.com/blacksoil/HomographyAnalyzer/internal/testutil"
	"github.com/blacksoil/HomographyAnalyzer/internal/utils"
)

const sceneSeed = 3

func (testCtx *TestContext) scene() *imagebuf.Image {
	return testutil.TexturedScene(testutil.MediumSize.Width, testutil.MediumSize.Height, sceneSeed)
}

func (testCtx *TestContext) save(path string, img *imagebuf.Image) error {
	if err := utils.SaveImage(path, img.ToImage()); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// aReferenceImage writes the textured scene and exposes it as {reference}.
func (testCtx *TestContext) aReferenceImage() error {
	path := filepath.Join(testCtx.TempDir, "reference.png")
	testCtx.Vars["reference"] = path
	return testCtx.save(path, testCtx.scene())
}

// aTargetImageShiftedBy writes the scene moved by (dx, dy) as {target}.
func (testCtx *TestContext) aTargetImageShiftedBy(dx, dy int) error {
	path := filepath.Join(testCtx.TempDir, "target.png")
	testCtx.Vars["target"] = path
	return testCtx.save(path, testutil.Translate(testCtx.scene(), dx, dy))
}

// aNoiseImage writes an image unrelated to the scene as {noise}.
func (testCtx *TestContext) aNoiseImage() error {
	path := filepath.Join(testCtx.TempDir, "noise.png")
	testCtx.Vars["noise"] = path
	return testCtx.save(path, testutil.NoiseImage(testutil.MediumSize.Width, testutil.MediumSize.Height, 99))
}

// aUniformImage writes a blank image as {blank}.
func (testCtx *TestContext) aUniformImage() error {
	path := filepath.Join(testCtx.TempDir, "blank.png")
	testCtx.Vars["blank"] = path
	return testCtx.save(path, testutil.UniformImage(testutil.MediumSize.Width, testutil.MediumSize.Height, 128))
}

// aWorkspaceWithTargets lays out {workspace}/input with REFERENCE.png and the targets
// of the table. Each row names a target and either "shift dx dy" or "noise".
func (testCtx *TestContext) aWorkspaceWithTargets(table *godog.Table) error {
	ws := filepath.Join(testCtx.TempDir, "workspace")
	input := filepath.Join(ws, "input")
	if err := os.MkdirAll(input, 0o750); err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	testCtx.Vars["workspace"] = ws

	scene := testCtx.scene()
	if err := testCtx.save(filepath.Join(input, "REFERENCE.png"), scene); err != nil {
		return err
	}

	for i, row := range table.Rows {
		if i == 0 {
			continue
		}
		if len(row.Cells) != 2 {
			return fmt.Errorf("row %d: want name and content", i)
		}
		name, content := row.Cells[0].Value, row.Cells[1].Value

		var img *imagebuf.Image
		var dx, dy int
		switch {
		case content == "noise":
			img = testutil.NoiseImage(scene.Width, scene.Height, int64(100+i))
		case content == "blank":
			img = testutil.UniformImage(scene.Width, scene.Height, 128)
		default:
			if _, err := fmt.Sscanf(content, "shift %d %d", &dx, &dy); err != nil {
				return fmt.Errorf("row %d: unknown content %q", i, content)
			}
			img = testutil.Translate(scene, dx, dy)
		}
		if err := testCtx.save(filepath.Join(input, name), img); err != nil {
			return err
		}
	}
	return nil
}

// RegisterWorkspaceSteps registers the image fixture steps.
func (testCtx *TestContext) RegisterWorkspaceSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a reference image$`, testCtx.aReferenceImage)
	sc.Step(`^a target image shifted by (-?\d+), (-?\d+)$`, testCtx.aTargetImageShiftedBy)
	sc.Step(`^a noise image$`, testCtx.aNoiseImage)
	sc.Step(`^a blank image$`, testCtx.aUniformImage)
	sc.Step(`^a workspace with targets:$`, testCtx.aWorkspaceWithTargets)
}
