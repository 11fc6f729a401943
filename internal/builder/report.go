package builder

import "sync"

// Report summarizes one builder run. Fields mirror the reference
// implementation's Status struct (bin/ipwned-builder.rs), which the
// distilled spec only asks to be "summarized" without naming the fields.
type Report struct {
	mu sync.Mutex

	Total           uint32
	Skipped         uint32 // fresh, not fetched
	Downloaded      uint32 // 200 responses
	NotModified     uint32 // 304 responses
	DownloadedBytes uint64
	HashesSeen      uint32
	HashesNew       uint32
	LinesSkipped    uint32
	Failed          uint32
	Processed       uint32

	Errors map[uint32]string
}

func newReport(total uint32) *Report {
	return &Report{Total: total, Errors: make(map[uint32]string)}
}

func (r *Report) recordSkippedFresh() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Skipped++
	r.Processed++
}

func (r *Report) recordNotModified() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.NotModified++
	r.Processed++
}

func (r *Report) recordDownloaded(bytesLen int, hashesTotal, hashesNew, linesSkipped int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Downloaded++
	r.DownloadedBytes += uint64(bytesLen)
	r.HashesSeen += uint32(hashesTotal)
	r.HashesNew += uint32(hashesNew)
	r.LinesSkipped += uint32(linesSkipped)
	r.Processed++
}

func (r *Report) recordFailed(id uint32, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Failed++
	r.Processed++
	r.Errors[id] = err.Error()
}
