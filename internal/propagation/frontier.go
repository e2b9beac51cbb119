package propagation

// pending is one unit of frontier work: risk arriving at node, credited to
// origin, after depth hops from that seed.
type pending struct {
	node   string
	risk   float64
	origin string
	depth  int
}

// frontier is a FIFO ring buffer. Strict FIFO order decides which of two
// equal-valued paths claims a node first.
type frontier struct {
	buf  []pending
	head int
	size int
}

func newFrontier(capacity int) *frontier {
	if capacity < 8 {
		capacity = 8
	}
	return &frontier{buf: make([]pending, capacity)}
}

func (f *frontier) push(p pending) {
	if f.size == len(f.buf) {
		f.grow()
	}
	f.buf[(f.head+f.size)%len(f.buf)] = p
	f.size++
}

func (f *frontier) pop() (pending, bool) {
	if f.size == 0 {
		return pending{}, false
	}
	p := f.buf[f.head]
	f.buf[f.head] = pending{}
	f.head = (f.head + 1) % len(f.buf)
	f.size--
	return p, true
}

func (f *frontier) len() int {
	return f.size
}

func (f *frontier) grow() {
	next := make([]pending, len(f.buf)*2)
	for i := 0; i < f.size; i++ {
		next[i] = f.buf[(f.head+i)%len(f.buf)]
	}
	f.buf = next
	f.head = 0
}
