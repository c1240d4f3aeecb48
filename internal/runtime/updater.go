package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	version "github.com/hashicorp/go-version"
	"github.com/spf13/afero"

	"github.com/sharkusmanch/hb-service/internal/domain"
	hbhttp "github.com/sharkusmanch/hb-service/internal/http"
	"github.com/sharkusmanch/hb-service/internal/shell"
)

// StagingDirName holds in-flight downloads under the storage path. It is
// removed by Cleanup and by the pre-start hook.
const StagingDirName = ".runtime-update"

// Downloader streams a URL into a writer.
type Downloader interface {
	Download(ctx context.Context, url string, w io.Writer) (int64, error)
}

// Updater downloads and swaps the runtime in place.
type Updater struct {
	fs          afero.Fs
	runner      shell.Runner
	downloader  Downloader
	distURL     string
	timeout     time.Duration
	safeRoots   []string
	storagePath string
	nodePath    string
	goos        string
	goarch      string
	logger      *slog.Logger
}

// Option configures an Updater.
type Option func(*Updater)

// WithFs sets the filesystem.
func WithFs(fs afero.Fs) Option {
	return func(u *Updater) {
		u.fs = fs
	}
}

// WithDistURL sets the release mirror.
func WithDistURL(url string) Option {
	return func(u *Updater) {
		u.distURL = strings.TrimRight(url, "/")
	}
}

// WithDownloadTimeout bounds one archive download.
func WithDownloadTimeout(d time.Duration) Option {
	return func(u *Updater) {
		u.timeout = d
	}
}

// WithSafeRoots sets the install roots the updater may overwrite.
func WithSafeRoots(roots []string) Option {
	return func(u *Updater) {
		u.safeRoots = roots
	}
}

// WithPlatform sets the target OS and architecture.
func WithPlatform(goos, goarch string) Option {
	return func(u *Updater) {
		u.goos = goos
		u.goarch = goarch
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(u *Updater) {
		u.logger = logger
	}
}

// NewUpdater creates an Updater for the runtime at nodePath.
func NewUpdater(runner shell.Runner, downloader Downloader, storagePath, nodePath string, opts ...Option) *Updater {
	u := &Updater{
		fs:          afero.NewOsFs(),
		runner:      runner,
		downloader:  downloader,
		distURL:     "https://nodejs.org/dist",
		timeout:     10 * time.Minute,
		safeRoots:   []string{"/usr/local", "/opt/homebridge"},
		storagePath: storagePath,
		nodePath:    nodePath,
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(u)
	}

	return u
}

// StagingDir returns the download staging directory.
func (u *Updater) StagingDir() string {
	return filepath.Join(u.storagePath, StagingDirName)
}

// ResolveInstallRoot derives the install root from the running node binary
// (<root>/bin/node) and refuses roots outside the safe set.
func (u *Updater) ResolveInstallRoot() (string, error) {
	if u.nodePath == "" {
		return "", fmt.Errorf("node binary not found in PATH")
	}

	root := filepath.Dir(filepath.Dir(filepath.Clean(u.nodePath)))
	for _, safe := range u.safeRoots {
		if filepath.Clean(safe) == root {
			return root, nil
		}
	}
	return "", fmt.Errorf("refusing to update node installed at %s: install root %s is not one of %s",
		u.nodePath, root, strings.Join(u.safeRoots, ", "))
}

// ArchiveName returns the release archive file name for target.
func (u *Updater) ArchiveName(target *version.Version) (string, error) {
	arch, err := Arch(u.goos, u.goarch)
	if err != nil {
		return "", err
	}
	if u.goos == "windows" {
		return fmt.Sprintf("node-v%s-%s.msi", target.String(), arch), nil
	}
	return fmt.Sprintf("node-v%s-%s-%s.tar.gz", target.String(), u.goos, arch), nil
}

// Download fetches the release archive into the staging directory and returns
// its path. Timeouts and connection failures are retryable TransientIOErrors.
func (u *Updater) Download(ctx context.Context, target *version.Version) (string, error) {
	name, err := u.ArchiveName(target)
	if err != nil {
		return "", err
	}
	url := fmt.Sprintf("%s/v%s/%s", u.distURL, target.String(), name)
	dest := filepath.Join(u.StagingDir(), name)

	if err := u.fs.MkdirAll(u.StagingDir(), 0o755); err != nil {
		return "", &domain.TransientIOError{Op: "create staging directory", Err: err}
	}

	f, err := u.fs.Create(dest)
	if err != nil {
		return "", &domain.TransientIOError{Op: "create " + dest, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	u.logger.Info("downloading runtime", "url", url, "dest", dest)
	n, err := u.downloader.Download(ctx, url, f)
	closeErr := f.Close()
	if err != nil {
		return "", u.downloadError(url, err)
	}
	if closeErr != nil {
		return "", &domain.TransientIOError{Op: "write " + dest, Err: closeErr}
	}

	u.logger.Info("runtime downloaded", "bytes", n)
	return dest, nil
}

func (u *Updater) downloadError(url string, err error) error {
	op := "download " + url
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.TransientIOError{
			Op:        op,
			Err:       fmt.Errorf("timed out after %s: %w", u.timeout, err),
			Retryable: true,
		}
	}
	var statusErr *hbhttp.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode < 500 {
		return &domain.TransientIOError{Op: op, Err: err}
	}
	return &domain.TransientIOError{Op: op, Err: err, Retryable: true}
}

// RemoveBundledNPM deletes root/lib/node_modules/npm so the archive's copy does
// not land on top of a different npm version.
func (u *Updater) RemoveBundledNPM(root string) error {
	dir := filepath.Join(root, "lib", "node_modules", "npm")
	if err := u.fs.RemoveAll(dir); err != nil {
		return &domain.TransientIOError{Op: "remove " + dir, Err: err}
	}
	return nil
}

// Extract unpacks archive over root, stripping the top-level directory.
func (u *Updater) Extract(archive, root string) error {
	n, err := ExtractTarGz(u.fs, archive, root)
	if err != nil {
		return &domain.TransientIOError{Op: "extract " + filepath.Base(archive), Err: err}
	}
	u.logger.Info("runtime extracted", "root", root, "entries", n)
	return nil
}

// Cleanup removes the staging directory and the downloaded archive.
func (u *Updater) Cleanup() error {
	if err := u.fs.RemoveAll(u.StagingDir()); err != nil {
		return &domain.TransientIOError{Op: "remove " + u.StagingDir(), Err: err}
	}
	return nil
}

// Swap runs the unix update sequence after the gate has passed: resolve the
// install root, download, remove the bundled npm, extract and clean up. The
// first failing step aborts the rest.
func (u *Updater) Swap(ctx context.Context, target *version.Version) error {
	root, err := u.ResolveInstallRoot()
	if err != nil {
		return err
	}

	archive, err := u.Download(ctx, target)
	if err != nil {
		return err
	}

	if err := u.RemoveBundledNPM(root); err != nil {
		return err
	}

	if err := u.Extract(archive, root); err != nil {
		return err
	}

	return u.Cleanup()
}

// InstallMSI downloads the Windows installer and runs it silently.
func (u *Updater) InstallMSI(ctx context.Context, target *version.Version) error {
	msi, err := u.Download(ctx, target)
	if err != nil {
		return err
	}

	if _, err := u.runner.Run(ctx, shell.Command{
		Name:   "msiexec",
		Args:   []string{"/i", msi, "/quiet", "/norestart"},
		Stream: true,
	}); err != nil {
		return fmt.Errorf("failed to install node %s: %w", target.String(), err)
	}

	return u.Cleanup()
}
