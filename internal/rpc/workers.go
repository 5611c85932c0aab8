package rpc

import "sync"

// workerPool executes packets no local context is waiting for. Its depth is what INIT
// advertises, and the peer never has more than that many such packets outstanding.
type workerPool struct {
	jobs chan func()
	quit chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func newWorkerPool(size int) *workerPool {
	return &workerPool{
		jobs: make(chan func(), size),
		quit: make(chan struct{}),
	}
}

func (w *workerPool) start(size int) {
	for i := 0; i < size; i++ {
		w.wg.Add(1)
		go w.run()
	}
}

func (w *workerPool) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.quit:
			return
		case job := <-w.jobs:
			job()
		}
	}
}

// submit queues job, blocking while every worker is busy and the queue is full.
func (w *workerPool) submit(job func()) bool {
	select {
	case <-w.quit:
		return false
	case w.jobs <- job:
		return true
	}
}

func (w *workerPool) stop() {
	w.once.Do(func() { close(w.quit) })
}
