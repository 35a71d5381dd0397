package dist

import (
	"context"
	"testing"
	"time"

	"github.com/nccbuild/fbuild/internal/graph"
	"github.com/nccbuild/fbuild/internal/queue"
)

func TestWorkerConnDispatchesAndCollectsResult(t *testing.T) {
	srv := &Server{
		Addr: "127.0.0.1:0",
		Tags: []string{"linux"},
		RunJob: func(ctx context.Context, toolID uint64, nodeName string, inputs []byte) (graph.BuildResult, bool, string, []byte, error) {
			return graph.ResultOK, false, "", []byte("object bytes"), nil
		},
	}

	// Listen binds to an ephemeral port; dial the address it actually
	// picked rather than "127.0.0.1:0" itself.
	ln, err := srv.Listen()
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go srv.Serve(ctx, ln)

	g := graph.New()
	n, err := g.CreateObjectNode("foo.o", graph.ObjectAttrs{})
	if err != nil {
		t.Fatal(err)
	}
	q := queue.New(4)
	j := q.QueueJob(n, []byte("preprocessed"), 0, true)

	c := NewWorkerConn(ln.Addr().String(), q, nil)
	c.ToolID = 1

	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for j.State() != queue.DistCompletedRemotely && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if j.State() != queue.DistCompletedRemotely {
		t.Fatalf("job state = %v, want DistCompletedRemotely", j.State())
	}
	if j.Result != graph.ResultOK {
		t.Fatalf("job result = %v, want ResultOK", j.Result)
	}
	if string(j.ResultData) != "object bytes" {
		t.Fatalf("job result data = %q, want %q", j.ResultData, "object bytes")
	}

	cancel()
	<-done
}
