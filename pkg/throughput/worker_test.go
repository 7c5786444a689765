package throughput

import (
	"testing"

	"github.com/m-lab/speedtest/pkg/model"
	"github.com/m-lab/speedtest/pkg/throughput/spec"
)

func Test_newWorker_transportBuffers(t *testing.T) {
	ep := model.Endpoint{ID: 1, Host: "example.com", Port: 8080}
	for _, tester := range []*Tester{NewDownloader(Config{}), NewUploader(Config{})} {
		w := tester.newWorker(0, ep)
		if w.tr.WriteBufferSize != spec.ChunkSize || w.tr.ReadBufferSize != spec.ChunkSize {
			t.Errorf("%s transport buffers = %d/%d, want %d", tester.Kind(),
				w.tr.WriteBufferSize, w.tr.ReadBufferSize, spec.ChunkSize)
		}
		if w.tr.TLSNextProto == nil {
			t.Errorf("%s transport allows HTTP/2", tester.Kind())
		}
	}
}
