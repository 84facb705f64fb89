package maven

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Result describes a successful deployment to one repository
type Result struct {
	Repository string
	Location   string
	Checksums  Checksums
	Time       time.Time
}

// Publisher deploys publications to a list of repositories
type Publisher struct {
	// Now defaults to time.Now
	Now func() time.Time
}

// Prepare validates the publication, checks the artifact and renders the POM. No repository is touched.
func (p *Publisher) Prepare(pub *Publication) (*Deployment, error) {
	err := pub.Validate()
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(pub.Artifact)
	if err != nil {
		return nil, eris.Wrapf(err, "artifact %s for publication %s is missing", pub.Artifact, pub.Name)
	}

	if !info.Mode().IsRegular() {
		return nil, eris.Errorf("artifact %s for publication %s is not a regular file", pub.Artifact, pub.Name)
	}

	sums, err := FileChecksums(pub.Artifact)
	if err != nil {
		return nil, err
	}

	pom, err := GeneratePOM(pub)
	if err != nil {
		return nil, err
	}

	now := time.Now
	if p.Now != nil {
		now = p.Now
	}

	return &Deployment{
		Publication: pub,
		POM:         pom,
		Checksums:   sums,
		Size:        info.Size(),
		Time:        now(),
	}, nil
}

// Publish deploys pub to every repository in order. The first failure aborts the remaining deployments;
// results for the repositories that already succeeded are returned alongside the error.
func (p *Publisher) Publish(ctx context.Context, pub *Publication, repos []Repository) ([]Result, error) {
	d, err := p.Prepare(pub)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(repos))
	for _, repo := range repos {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		zerolog.Ctx(ctx).Info().
			Str("publication", pub.Name).
			Str("repository", repo.Name()).
			Msgf("publishing %s to %s", pub.Coordinates, repo.Location())

		err = repo.Deploy(ctx, d)
		if err != nil {
			return results, eris.Wrapf(err, "failed to publish %s to repository %s", pub.Coordinates, repo.Name())
		}

		results = append(results, Result{
			Repository: repo.Name(),
			Location:   repo.Location(),
			Checksums:  d.Checksums,
			Time:       d.Time,
		})
	}

	return results, nil
}
