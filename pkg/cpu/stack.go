package cpu

// Stack is the operand stack. A depth of zero means unbounded.
type Stack struct {
	data  []uint64
	depth int
}

type StackOpt func(*Stack) *Stack

func MaxStack(max int) StackOpt {
	return func(s *Stack) *Stack {
		s.depth = max
		return s
	}
}

func NewStack(opts ...StackOpt) *Stack {
	s := &Stack{}
	for _, opt := range opts {
		s = opt(s)
	}
	return s
}

func (s *Stack) Push(v uint64) error {
	if s.depth > 0 && len(s.data) == s.depth {
		return ErrStackOverflow
	}
	s.data = append(s.data, v)
	return nil
}

func (s *Stack) Pop() (uint64, error) {
	if s.Empty() {
		return 0, ErrStackUnderflow
	}
	v := s.data[len(s.data)-1]
	s.data = s.data[:len(s.data)-1]
	return v, nil
}

func (s *Stack) Peek() (uint64, error) {
	if s.Empty() {
		return 0, ErrStackUnderflow
	}
	return s.data[len(s.data)-1], nil
}

func (s *Stack) Empty() bool {
	return len(s.data) == 0
}

func (s *Stack) Len() int {
	return len(s.data)
}

// Values returns a copy of the stack, bottom first.
func (s *Stack) Values() []uint64 {
	out := make([]uint64, len(s.data))
	copy(out, s.data)
	return out
}

func (s *Stack) Reset() {
	s.data = s.data[:0]
}
