package crashreport

const bufSize = 512

const hexDigits = "0123456789abcdef"

// buffer accumulates report text and flushes it to fd whenever it fills up.
// It is meant to be declared on the stack.
type buffer struct {
	fd  int
	n   int
	buf [bufSize]byte
}

func (b *buffer) putByte(c byte) {
	if b.n == len(b.buf) {
		b.flush()
	}
	b.buf[b.n] = c
	b.n++
}

func (b *buffer) str(s string) {
	for i := 0; i < len(s); i++ {
		b.putByte(s[i])
	}
}

func (b *buffer) nl() {
	b.putByte('\n')
}

func (b *buffer) dec(v uint64) {
	var tmp [20]byte
	i := len(tmp)
	for {
		i--
		tmp[i] = byte('0' + v%10)
		v /= 10
		if v == 0 {
			break
		}
	}
	for ; i < len(tmp); i++ {
		b.putByte(tmp[i])
	}
}

// hex writes v as 0x followed by 16 zero-padded digits.
func (b *buffer) hex(v uint64) {
	b.str("0x")
	for shift := 60; shift >= 0; shift -= 4 {
		b.putByte(hexDigits[(v>>uint(shift))&0xf])
	}
}

func (b *buffer) reg(name string, v uint64) {
	b.str(name)
	b.putByte('=')
	b.hex(v)
	b.nl()
}

func (b *buffer) flush() {
	p := b.buf[:b.n]
	for len(p) > 0 {
		n, ok := rawWrite(b.fd, p)
		if !ok {
			break
		}
		p = p[n:]
	}
	b.n = 0
}
