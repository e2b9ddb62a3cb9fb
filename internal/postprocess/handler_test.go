package postprocess_test

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"

	"episoded/internal/domain"
	"episoded/internal/postprocess"
	"episoded/internal/storage"
)

type fakeStorage struct {
	paths []string
	opts  []storage.UploadOptions
	err   error
}

func (f *fakeStorage) UploadDirectory(ctx context.Context, localPath string, opts storage.UploadOptions) (string, error) {
	f.paths = append(f.paths, localPath)
	f.opts = append(f.opts, opts)
	if f.err != nil {
		return "", f.err
	}
	return "s3://" + opts.Bucket + "/" + opts.KeyPrefix, nil
}

type fakeNotifier struct {
	titles []string
	links  []string
	err    error
}

func (f *fakeNotifier) EpisodeCompleted(ctx context.Context, title, link string) error {
	f.titles = append(f.titles, title)
	f.links = append(f.links, link)
	return f.err
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestCommonDir(t *testing.T) {
	tests := []struct {
		name  string
		paths []string
		want  string
	}{
		{
			name:  "single file",
			paths: []string{"/d/show/ep1.mkv"},
			want:  "/d/show",
		},
		{
			name:  "siblings",
			paths: []string{"/d/show/ep1.mkv", "/d/show/ep1.ass"},
			want:  "/d/show",
		},
		{
			name:  "nested",
			paths: []string{"/d/show/ep1.mkv", "/d/show/extras/op.mkv"},
			want:  "/d/show",
		},
		{
			name:  "divergent",
			paths: []string{"/d/show/ep1.mkv", "/e/other/ep1.mkv"},
			want:  "/",
		},
		{
			name:  "empty",
			paths: nil,
			want:  "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := postprocess.CommonDir(tc.paths); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestHandleCompletedMovesAndNotifies(t *testing.T) {
	notifier := &fakeNotifier{}
	handler := postprocess.NewHandler(postprocess.Config{
		MoveCommand:   "mv {src} /library/",
		PublicBaseURL: "https://media.example.com/",
		Logger:        quietLogger(),
	}, notifier, nil)

	var ranCommand string
	handler.SetRunCommandFunc(func(ctx context.Context, cmdline string) error {
		ranCommand = cmdline
		return nil
	})

	episode := domain.Episode{ID: 1, Title: "Show S01E01"}
	err := handler.HandleCompleted(context.Background(), episode, []string{"/d/show/ep1.mkv"})
	if err != nil {
		t.Fatalf("handle completed: %v", err)
	}

	if ranCommand != "mv /d/show /library/" {
		t.Fatalf("unexpected command %q", ranCommand)
	}
	if len(notifier.links) != 1 || notifier.links[0] != "https://media.example.com/show" {
		t.Fatalf("unexpected link %v", notifier.links)
	}
	if notifier.titles[0] != "Show S01E01" {
		t.Fatalf("unexpected title %q", notifier.titles[0])
	}
}

func TestHandleCompletedNotifiesEvenWhenMoveFails(t *testing.T) {
	notifier := &fakeNotifier{}
	handler := postprocess.NewHandler(postprocess.Config{
		MoveCommand:   "mv {src} /library/",
		PublicBaseURL: "https://media.example.com/",
		Logger:        quietLogger(),
	}, notifier, nil)
	handler.SetRunCommandFunc(func(ctx context.Context, cmdline string) error {
		return errors.New("exit status 1")
	})

	episode := domain.Episode{ID: 1, Title: "Show S01E01"}
	err := handler.HandleCompleted(context.Background(), episode, []string{"/d/show/ep1.mkv"})
	if err == nil {
		t.Fatal("expected move failure to be reported")
	}
	if len(notifier.links) != 1 {
		t.Fatal("notification must still be sent after a failed move")
	}
}

func TestHandleCompletedWithoutFiles(t *testing.T) {
	notifier := &fakeNotifier{}
	handler := postprocess.NewHandler(postprocess.Config{Logger: quietLogger()}, notifier, nil)
	handler.SetRunCommandFunc(func(ctx context.Context, cmdline string) error {
		t.Fatal("command must not run without files")
		return nil
	})

	err := handler.HandleCompleted(context.Background(), domain.Episode{ID: 1}, nil)
	if err == nil {
		t.Fatal("expected error for empty file list")
	}
	if len(notifier.links) != 0 {
		t.Fatal("no notification expected without files")
	}
}

func TestHandleCompletedMirrorsWithProgress(t *testing.T) {
	notifier := &fakeNotifier{}
	store := &fakeStorage{}
	handler := postprocess.NewHandler(postprocess.Config{
		PublicBaseURL: "https://media.example.com/",
		UploadOptions: storage.UploadOptions{Bucket: "media", KeyPrefix: "episodes"},
		Logger:        quietLogger(),
	}, notifier, store)

	episode := domain.Episode{ID: 1, Title: "Show S01E01"}
	err := handler.HandleCompleted(context.Background(), episode, []string{"/d/show/ep1.mkv"})
	if err != nil {
		t.Fatalf("handle completed: %v", err)
	}

	if len(store.paths) != 1 || store.paths[0] != "/d/show" {
		t.Fatalf("unexpected upload paths %v", store.paths)
	}
	opts := store.opts[0]
	if opts.KeyPrefix != "episodes/show" {
		t.Fatalf("unexpected key prefix %q", opts.KeyPrefix)
	}
	if opts.ProgressCallback == nil {
		t.Fatal("expected a progress callback on the upload")
	}
	opts.ProgressCallback(512, 1024) // must be safe to invoke
	if len(notifier.links) != 1 {
		t.Fatal("expected notification after mirroring")
	}
}

func TestHandleCompletedSkipsCommandWhenUnset(t *testing.T) {
	notifier := &fakeNotifier{}
	handler := postprocess.NewHandler(postprocess.Config{
		PublicBaseURL: "https://media.example.com/",
		Logger:        quietLogger(),
	}, notifier, nil)
	handler.SetRunCommandFunc(func(ctx context.Context, cmdline string) error {
		t.Fatal("command must not run when not configured")
		return nil
	})

	err := handler.HandleCompleted(context.Background(), domain.Episode{ID: 1, Title: "Show"}, []string{"/d/show/ep1.mkv"})
	if err != nil {
		t.Fatalf("handle completed: %v", err)
	}
	if len(notifier.links) != 1 {
		t.Fatal("expected notification")
	}
}
