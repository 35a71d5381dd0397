// Command fbuild-autobuild polls a GitHub repository for new commits and
// triggers an fbuild build against each one, so breakage is caught close to
// the commit that caused it rather than at the next manual build.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"text/template"
	"time"

	"github.com/google/go-github/v27/github"
	"github.com/google/renameio"
	"golang.org/x/oauth2"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	fbuild "github.com/nccbuild/fbuild"
)

var accessToken = flag.String("github_access_token", "", "oauth2 GitHub access token")

func stamped(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, "stamp."+name))
	return err == nil
}

func writeStamp(dir, name string) error {
	return ioutil.WriteFile(filepath.Join(dir, "stamp."+name), nil, 0644)
}

// logWriter adapts a *log.Logger to io.Writer so exec.Cmd.Stdout/Stderr can
// be tee'd through it with the call site preserved.
type logWriter struct{ underlying *log.Logger }

func (lw logWriter) Write(p []byte) (n int, err error) {
	lw.underlying.Output(4, string(p))
	return len(p), nil
}

// autobuilder tracks one (repo, branch) pair and serializes runs with runMu
// so an interval tick never overlaps a SIGHUP-triggered run.
type autobuilder struct {
	repo    string
	branch  string
	srvDir  string
	targets []string
	dryRun  bool
	rebuild string

	status struct {
		sync.Mutex
		commits     []*github.RepositoryCommit
		lastUpdated time.Time
	}

	runMu sync.Mutex
}

// buildCommit checks out commit into a scratch work directory and runs
// `fbuild build` against it, streaming output into a per-commit,
// per-attempt log directory.
func (a *autobuilder) buildCommit(ctx context.Context, commit string) error {
	clog := log.New(&logWriter{log.New(log.Writer(), "", log.LstdFlags|log.Lshortfile)},
		fmt.Sprintf("[commit %s] ", commit), 0)

	workdir := filepath.Join(a.srvDir, "work", commit)
	if err := os.MkdirAll(workdir, 0755); err != nil {
		return err
	}

	if a.rebuild != commit && stamped(workdir, "built") {
		clog.Printf("already built, skipping")
		return nil
	}

	if a.rebuild == commit || !stamped(workdir, "clone") {
		clog.Printf("cloning")
		checkout := filepath.Join(workdir, "checkout")
		if err := os.RemoveAll(checkout); err != nil {
			return err
		}
		clone := exec.CommandContext(ctx, "sh", "-c",
			fmt.Sprintf("git clone --depth=50 %s checkout && cd checkout && git reset --hard %s", a.repo, commit))
		clone.Dir = workdir
		clone.Stdout = os.Stdout
		clone.Stderr = os.Stderr
		if err := clone.Run(); err != nil {
			return xerrors.Errorf("%v: %w", clone.Args, err)
		}
		if err := writeStamp(workdir, "clone"); err != nil {
			return err
		}
	} else {
		clog.Printf("already cloned")
	}

	if a.dryRun {
		clog.Printf("dry run: fbuild build %s", strings.Join(a.targets, " "))
		return nil
	}

	logDir := filepath.Join(a.srvDir, "buildlogs", commit, fmt.Sprintf("%d", time.Now().Unix()))
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return err
	}
	stdout, err := os.Create(filepath.Join(logDir, "stdout.log"))
	if err != nil {
		return err
	}
	defer stdout.Close()
	stderrPath := filepath.Join(logDir, "stderr.log")
	stderr, err := os.Create(stderrPath)
	if err != nil {
		return err
	}
	defer stderr.Close()

	args := append([]string{"build"}, a.targets...)
	build := exec.CommandContext(ctx, "fbuild", args...)
	build.Dir = filepath.Join(workdir, "checkout")
	build.Env = append(os.Environ(), "FBUILD_CACHE_PATH="+filepath.Join(a.srvDir, "cache"))
	build.Stdout = io.MultiWriter(os.Stdout, stdout)
	build.Stderr = io.MultiWriter(os.Stderr, stderr)
	if err := build.Run(); err != nil {
		return xerrors.Errorf("%v (log %s): %w", build.Args, stderrPath, err)
	}

	return writeStamp(workdir, "built")
}

// run polls GitHub for the latest commits and builds whichever aren't
// already built, processing newest-first (LIFO) so a burst of pushes makes
// the newest commit's result available first while still eventually
// covering every commit in between for bisection.
func (a *autobuilder) run(ctx context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: *accessToken})
	client := github.NewClient(oauth2.NewClient(ctx, ts))
	owner, repo := splitOwnerRepo(a.repo)
	commits, _, err := client.Repositories.ListCommits(ctx, owner, repo, &github.CommitsListOptions{
		ListOptions: github.ListOptions{PerPage: 10},
	})
	if err != nil {
		return xerrors.Errorf("listing commits: %w", err)
	}

	a.status.Lock()
	a.status.commits = commits
	a.status.lastUpdated = time.Now()
	a.status.Unlock()

	for idx, c := range commits {
		sha := c.GetSHA()
		if err := a.buildCommit(ctx, sha); err != nil {
			log.Printf("building %s: %v", sha, err)
			continue
		}
		if idx == 0 && !a.dryRun {
			if err := renameio.Symlink(sha, filepath.Join(a.srvDir, "work", a.branch)); err != nil {
				log.Printf("updating %s symlink: %v", a.branch, err)
			}
		}
	}
	return nil
}

func splitOwnerRepo(url string) (owner, repo string) {
	parts := strings.Split(strings.TrimPrefix(url, "https://github.com/"), "/")
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], parts[1]
}

var statusTmpl = template.Must(template.New("").Funcs(template.FuncMap{
	"firstLine": func(message string) string {
		if idx := strings.IndexByte(message, '\n'); idx > -1 {
			return message[:idx]
		}
		return message
	},
	"formatTimestamp": func(t time.Time) string { return t.Format(time.RFC3339) },
	"formatBytes": func(b uint64) string {
		switch {
		case b > 1024*1024*1024:
			return fmt.Sprintf("%.2f GiB", float64(b)/1024/1024/1024)
		case b > 1024*1024:
			return fmt.Sprintf("%.2f MiB", float64(b)/1024/1024)
		default:
			return fmt.Sprintf("%.2f KiB", float64(b)/1024)
		}
	},
}).Parse(`<!DOCTYPE html>
<head><meta charset="utf-8"><title>fbuild autobuild status</title></head>
<body>
<h1>recent commits</h1>
<table width="100%" cellpadding=0 cellspacing=0>
{{ range .Commits }}
<tr>
<td><a href="{{ .HTMLURL }}">{{ firstLine .Commit.Message }}</a><br>{{ .Commit.Author.Name }}</td>
<td><a href="/logs/{{ .SHA }}">build logs</a></td>
</tr>
{{ end }}
</table>
<p>tracking <code>{{ .Repo }}</code> branch <code>{{ .Branch }}</code>,
commits last updated {{ formatTimestamp .CommitsLastUpdated }},
free disk space {{ formatBytes .DiskSpace }}</p>
</body>
</html>`))

func (a *autobuilder) serveStatus(w http.ResponseWriter, r *http.Request) {
	a.status.Lock()
	commits := a.status.commits
	lastUpdated := a.status.lastUpdated
	a.status.Unlock()

	var fs unix.Statfs_t
	if err := unix.Statfs(a.srvDir, &fs); err != nil {
		log.Println(err)
	}

	var buf bytes.Buffer
	err := statusTmpl.Execute(&buf, struct {
		Commits             []*github.RepositoryCommit
		CommitsLastUpdated  time.Time
		Repo, Branch        string
		DiskSpace           uint64
	}{commits, lastUpdated, a.repo, a.branch, fs.Bavail * uint64(fs.Bsize)})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	io.Copy(w, &buf)
}

func main() {
	var (
		repo     = flag.String("repo", "", "git repository to poll for new commits")
		branch   = flag.String("branch", "main", "name of the symlink under <srv_dir>/work that is pointed at the newest listed commit after it builds successfully")
		srvDir   = flag.String("srv_dir", "/srv/fbuild-autobuild", "scratch directory for clones, build logs, and stamps")
		targets  = flag.String("targets", "all", "comma-separated fbuild target list to build per commit")
		dryRun   = flag.Bool("dry_run", false, "clone and log the intended build command without running it")
		once     = flag.Bool("once", false, "do a single poll-and-build pass instead of looping")
		interval = flag.Duration("interval", 15*time.Minute, "how frequently to poll for new commits")
		rebuild  = flag.String("rebuild", "", "if non-empty, a commit sha to rebuild even if already built")
		listen   = flag.String("listen", ":3719", "address for the status HTTP page")
	)
	flag.Parse()
	if *repo == "" {
		log.Fatal("-repo is required")
	}

	ctx, canc := fbuild.InterruptibleContext()
	defer canc()

	a := &autobuilder{
		repo:    *repo,
		branch:  *branch,
		srvDir:  *srvDir,
		targets: strings.Split(*targets, ","),
		dryRun:  *dryRun,
		rebuild: *rebuild,
	}

	http.Handle("/logs/", http.StripPrefix("/logs/", http.FileServer(http.Dir(filepath.Join(*srvDir, "buildlogs")))))
	http.Handle("/work/", http.StripPrefix("/work/", http.FileServer(http.Dir(filepath.Join(*srvDir, "work")))))
	http.HandleFunc("/status", a.serveStatus)
	go http.ListenAndServe(*listen, nil)

	if *once {
		if err := a.run(ctx); err != nil {
			log.Fatalf("%+v", err)
		}
		return
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	for {
		if err := a.run(ctx); err != nil {
			log.Printf("run: %+v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-hup:
		case <-time.After(*interval):
		}
	}
}
