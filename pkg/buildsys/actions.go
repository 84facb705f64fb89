package buildsys

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"

	"github.com/oop/memory-store/build-tools/pkg/bundle"
	"github.com/oop/memory-store/build-tools/pkg/maven"
	"github.com/oop/memory-store/build-tools/pkg/storage"
)

// frozenValue implements the parts of starlark.Value that are identical for all our immutable values
type frozenValue struct{}

func (frozenValue) Freeze() {}

func (frozenValue) Truth() starlark.Bool {
	return starlark.True
}

// ShadowJarAction bundles compiled output and dependency jars into a single archive
type ShadowJarAction struct {
	frozenValue
	Spec bundle.Spec
}

func (a *ShadowJarAction) String() string {
	return fmt.Sprintf("<shadow_jar %s>", a.Spec.OutputPath())
}

func (a *ShadowJarAction) Type() string {
	return "shadow_jar"
}

func (a *ShadowJarAction) Hash() (uint32, error) {
	return 0, eris.New("shadow_jar is not a hashable type")
}

func (a *ShadowJarAction) Describe() string {
	return fmt.Sprintf("bundle %d source dirs and %d jars into %s", len(a.Spec.Sources), len(a.Spec.Jars),
		a.Spec.OutputPath())
}

func (a *ShadowJarAction) Run(ctx context.Context) error {
	// jar patterns are resolved when the action runs since the jars might be produced by a dependency
	spec := a.Spec
	jars, err := resolvePatternLists(ctx, "", spec.Jars)
	if err != nil {
		return eris.Wrap(err, "failed to resolve jars")
	}
	spec.Jars = jars

	result, err := bundle.Bundle(ctx, spec)
	if err != nil {
		return err
	}

	log(ctx).Info().
		Str("path", result.Path).
		Msgf("wrote %s (%d entries, %d bytes)", result.Path, result.Entries, result.Size)
	return nil
}

// PublicationValue is the starlark representation of a maven.Publication
type PublicationValue struct {
	frozenValue
	Publication *maven.Publication
}

func (p *PublicationValue) String() string {
	return fmt.Sprintf("<publication %s %s>", p.Publication.Name, p.Publication.Coordinates)
}

func (p *PublicationValue) Type() string {
	return "publication"
}

func (p *PublicationValue) Hash() (uint32, error) {
	return starlark.String(p.Publication.Name).Hash()
}

// RepositoryValue is a publication target declared with maven_local() or maven()
type RepositoryValue struct {
	frozenValue
	LocalPath string
	Remote    *maven.RemoteRepository
}

func (r *RepositoryValue) String() string {
	if r.Remote != nil {
		return fmt.Sprintf("<repository %s %s>", r.Remote.Name(), r.Remote.Location())
	}

	if r.LocalPath == "" {
		return "<repository mavenLocal>"
	}
	return fmt.Sprintf("<repository mavenLocal %s>", r.LocalPath)
}

func (r *RepositoryValue) Type() string {
	return "repository"
}

func (r *RepositoryValue) Hash() (uint32, error) {
	return starlark.String(r.String()).Hash()
}

// IsRemote reports whether this repository is reached over the network
func (r *RepositoryValue) IsRemote() bool {
	return r.Remote != nil
}

func (r *RepositoryValue) resolve(services *Services) (maven.Repository, error) {
	if r.Remote != nil {
		r.Remote.Client = services.Client
		r.Remote.UserAgent = services.UserAgent
		r.Remote.Progress = services.Progress
		return r.Remote, nil
	}

	path := r.LocalPath
	if path == "" {
		path = services.LocalRepository
	}

	return maven.NewLocalRepository(path)
}

// PublishAction deploys publications to repositories
type PublishAction struct {
	frozenValue
	Publications []*maven.Publication
	Repositories []*RepositoryValue
}

func (a *PublishAction) String() string {
	return fmt.Sprintf("<maven_publish %d publications>", len(a.Publications))
}

func (a *PublishAction) Type() string {
	return "maven_publish"
}

func (a *PublishAction) Hash() (uint32, error) {
	return 0, eris.New("maven_publish is not a hashable type")
}

func (a *PublishAction) Describe() string {
	names := make([]string, len(a.Repositories))
	for idx, repo := range a.Repositories {
		names[idx] = repo.String()
	}

	pubs := make([]string, len(a.Publications))
	for idx, pub := range a.Publications {
		pubs[idx] = pub.Coordinates.String()
	}

	return fmt.Sprintf("publish %s to %s", strings.Join(pubs, ", "), strings.Join(names, ", "))
}

func (a *PublishAction) Run(ctx context.Context) error {
	services := getServices(ctx)

	repos := make([]maven.Repository, len(a.Repositories))
	for idx, value := range a.Repositories {
		repo, err := value.resolve(services)
		if err != nil {
			return err
		}
		repos[idx] = repo
	}

	publisher := &maven.Publisher{Now: services.now}
	for _, pub := range a.Publications {
		results, err := publisher.Publish(ctx, pub, repos)
		if services.History != nil && len(results) > 0 {
			recordErr := recordResults(ctx, services.History, pub, results)
			if recordErr != nil {
				log(ctx).Warn().Err(recordErr).Msg("failed to update the publication history")
			}
		}
		if err != nil {
			return err
		}
	}

	return nil
}

func recordResults(ctx context.Context, history *storage.History, pub *maven.Publication, results []maven.Result) error {
	return history.BatchUpdate(ctx, func(ctx context.Context) error {
		for _, result := range results {
			err := history.Record(ctx, &storage.Publication{
				Publication: pub.Name,
				Coordinates: pub.Coordinates.String(),
				Repository:  result.Repository,
				Location:    result.Location,
				SHA256:      result.Checksums.SHA256,
				Time:        result.Time,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// * Builtins

func starlarkStringDict(input *starlark.Dict, field string) (map[string]string, error) {
	result := map[string]string{}
	if input == nil {
		return result, nil
	}

	for _, item := range input.Items() {
		key, ok := item[0].(starlark.String)
		if !ok {
			return nil, eris.Errorf("found key type %s in %s but only strings are supported", item[0].Type(), field)
		}

		value, ok := item[1].(starlark.String)
		if !ok {
			return nil, eris.Errorf("found value of type %s for key %s in %s but only strings are supported",
				item[1].Type(), key.GoString(), field)
		}

		result[key.GoString()] = value.GoString()
	}

	return result, nil
}

func starlarkPathList(ctx *parserCtx, input *starlark.List, field string) ([]string, error) {
	result := []string{}
	if input == nil {
		return result, nil
	}

	iter := input.Iterate()
	defer iter.Done()

	var item starlark.Value
	for iter.Next(&item) {
		switch value := item.(type) {
		case starlark.String:
			result = append(result, normalizePath(ctx, value.GoString()))
		case StarlarkPath:
			result = append(result, normalizePath(ctx, string(value)))
		default:
			return nil, eris.Errorf("expected all items in %s to be strings or paths but found %s", field, item.Type())
		}
	}

	return result, nil
}

func starlarkPathArg(ctx *parserCtx, value starlark.Value, field string) (string, error) {
	switch value := value.(type) {
	case starlark.String:
		return normalizePath(ctx, value.GoString()), nil
	case StarlarkPath:
		return normalizePath(ctx, string(value)), nil
	default:
		return "", eris.Errorf("%s: got %s, want path or string", field, value.Type())
	}
}

func shadowJar(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var archiveName string
	var destination starlark.Value
	var sources *starlark.List
	var jars *starlark.List
	var manifest *starlark.Dict
	var exclude *starlark.List
	var mergeServiceFiles bool

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "archive_name", &archiveName, "destination", &destination,
		"sources?", &sources, "jars?", &jars, "manifest?", &manifest, "exclude?", &exclude,
		"merge_service_files?", &mergeServiceFiles)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	action := &ShadowJarAction{}
	action.Spec.ArchiveName = archiveName
	action.Spec.MergeServiceFiles = mergeServiceFiles

	action.Spec.Destination, err = starlarkPathArg(ctx, destination, "destination")
	if err != nil {
		return nil, err
	}

	action.Spec.Sources, err = starlarkPathList(ctx, sources, "sources")
	if err != nil {
		return nil, err
	}

	action.Spec.Jars, err = starlarkPathList(ctx, jars, "jars")
	if err != nil {
		return nil, err
	}

	action.Spec.Manifest, err = starlarkStringDict(manifest, "manifest")
	if err != nil {
		return nil, err
	}

	action.Spec.Exclude, err = starlarkIterable2stringSlice(exclude, "exclude")
	if err != nil {
		return nil, err
	}

	err = action.Spec.Validate()
	if err != nil {
		return nil, ctx.fail(err)
	}

	return action, nil
}

func publication(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	pub := new(maven.Publication)
	var artifact starlark.Value

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &pub.Name, "group_id", &pub.Coordinates.GroupID,
		"artifact_id", &pub.Coordinates.ArtifactID, "version", &pub.Coordinates.Version, "artifact", &artifact,
		"packaging?", &pub.Packaging, "description?", &pub.Description)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	pub.Artifact, err = starlarkPathArg(ctx, artifact, "artifact")
	if err != nil {
		return nil, err
	}

	err = pub.Validate()
	if err != nil {
		return nil, ctx.fail(err)
	}

	return &PublicationValue{Publication: pub}, nil
}

func mavenLocal(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path starlark.Value = starlark.None

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "path?", &path)
	if err != nil {
		return nil, err
	}

	repo := &RepositoryValue{}
	if path != starlark.None {
		repo.LocalPath, err = starlarkPathArg(getCtx(thread), path, "path")
		if err != nil {
			return nil, err
		}
	}

	return repo, nil
}

func mavenRemote(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var url string
	var creds maven.Credentials

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "url", &url, "name?", &name, "username?", &creds.Username,
		"password?", &creds.Password)
	if err != nil {
		return nil, err
	}

	remote, err := maven.NewRemoteRepository(name, url, creds)
	if err != nil {
		return nil, getCtx(thread).fail(err)
	}

	return &RepositoryValue{Remote: remote}, nil
}

func mavenPublish(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var publications *starlark.List
	var repositories *starlark.List

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "publications", &publications, "repositories", &repositories)
	if err != nil {
		return nil, err
	}

	action := &PublishAction{}
	var item starlark.Value

	iter := publications.Iterate()
	for iter.Next(&item) {
		value, ok := item.(*PublicationValue)
		if !ok {
			iter.Done()
			return nil, eris.Errorf("%s: expected publications but found %s", fn.Name(), item.Type())
		}
		action.Publications = append(action.Publications, value.Publication)
	}
	iter.Done()

	iter = repositories.Iterate()
	for iter.Next(&item) {
		value, ok := item.(*RepositoryValue)
		if !ok {
			iter.Done()
			return nil, eris.Errorf("%s: expected repositories but found %s", fn.Name(), item.Type())
		}
		action.Repositories = append(action.Repositories, value)
	}
	iter.Done()

	if len(action.Publications) == 0 {
		return nil, eris.Errorf("%s: no publications", fn.Name())
	}

	if len(action.Repositories) == 0 {
		return nil, eris.Errorf("%s: no repositories", fn.Name())
	}

	seen := map[string]bool{}
	for _, pub := range action.Publications {
		if seen[pub.Name] {
			return nil, eris.Errorf("%s: publication %s was passed twice", fn.Name(), pub.Name)
		}
		seen[pub.Name] = true
	}

	return action, nil
}
