package fetch

import (
	"context"
	"fmt"

	"github.com/emberhq/ember/asset"
	"github.com/emberhq/ember/internal/imgconv"
)

// rasterizeSVG renders an SVG document to a transparent PNG and stores it
// as a blob.
func (t *Tool) rasterizeSVG(ctx context.Context, svgText string) (asset.ID, error) {
	png, err := imgconv.RasterizeSVG(svgText)
	if err != nil {
		return asset.ID{}, fmt.Errorf("svg: %w", err)
	}
	return t.blobs.Save(ctx, png)
}
