// Package discovery samples every configured table and assembles the catalog.
package discovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/johndauphine/sftp-csv-tap/internal/catalog"
	"github.com/johndauphine/sftp-csv-tap/internal/config"
	"github.com/johndauphine/sftp-csv-tap/internal/exitcodes"
	"github.com/johndauphine/sftp-csv-tap/internal/logging"
	"github.com/johndauphine/sftp-csv-tap/internal/sampling"
	"github.com/johndauphine/sftp-csv-tap/internal/transport"
)

// ErrNoStreams is returned when no configured table produced a schema.
var ErrNoStreams = errors.New("no streams found")

// Discover builds one catalog stream per table that has files. Tables with
// no files are logged and left out.
func Discover(ctx context.Context, cfg *config.Config, t transport.Transport) (*catalog.Catalog, error) {
	sampler := sampling.New(t, sampling.OptionsFromConfig(cfg))

	cat := &catalog.Catalog{}
	for _, spec := range cfg.Tables {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sch, err := sampler.SampleSchema(ctx, spec)
		if err != nil {
			var missing *sampling.MissingHeadersError
			if errors.As(err, &missing) {
				return nil, exitcodes.NewExitError(err, exitcodes.ConfigError)
			}
			return nil, fmt.Errorf("discovering table '%s': %w", spec.TableName, err)
		}
		if sch == nil {
			logging.Warn("Table %s: no files matched %q under %q, skipping", spec.TableName, spec.SearchPattern, spec.SearchPrefix)
			continue
		}
		cat.Streams = append(cat.Streams, catalog.NewStream(spec.TableName, sch, spec.KeyProperties))
		logging.Info("Table %s: discovered %d columns", spec.TableName, len(sch.Properties))
	}

	if len(cat.Streams) == 0 {
		return nil, exitcodes.NewExitError(ErrNoStreams, exitcodes.DiscoveryError)
	}
	return cat, nil
}
