package discovery

import (
	"context"
	"fmt"
	"strings"
)

// StopAll stops every running container carrying label. When none does, it
// falls back to containers started from image, which is how older sessions
// without the label are found. It returns how many containers were stopped.
func (l *Lister) StopAll(ctx context.Context, label, image string) (int, error) {
	var records []Record
	if label != "" {
		labelled, err := l.List(ctx, Filter{Label: label})
		if err != nil {
			return 0, err
		}
		records = labelled
	}
	if len(records) == 0 && image != "" {
		byImage, err := l.List(ctx, Filter{Image: image})
		if err != nil {
			return 0, err
		}
		for _, rec := range byImage {
			if sameImage(rec.Image, image) {
				records = append(records, rec)
			}
		}
	}

	stopped := 0
	for _, rec := range records {
		if _, err := l.Engine.Output(ctx, "stop", "--time", "0", rec.ID); err != nil {
			return stopped, fmt.Errorf("stop %s: %w", rec.ID, err)
		}
		stopped++
	}
	return stopped, nil
}

// sameImage reports whether a listed image name refers to image, ignoring a
// tag on either side when the other has none.
func sameImage(listed, image string) bool {
	if listed == image {
		return true
	}
	return strings.HasPrefix(listed, image+":") || strings.HasPrefix(image, listed+":")
}
