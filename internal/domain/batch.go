package domain

// Batch is an ordered run of serialized messages delivered as one unit.
// Index is the batch index carried by the leading BatchMeta message; it is
// assigned once at construction and never reused.
type Batch struct {
	// Index is the first message index covered by this batch
	Index uint64

	// Messages contains the serialized messages in submission order
	Messages [][]byte

	// TotalBytes is the sum of all message lengths
	TotalBytes int
}

// NewBatch creates an empty batch with the given index.
func NewBatch(index uint64) *Batch {
	return &Batch{Index: index}
}

// Add appends a serialized message to the batch.
func (b *Batch) Add(msg []byte) {
	b.Messages = append(b.Messages, msg)
	b.TotalBytes += len(msg)
}

// Size returns the number of messages in the batch.
func (b *Batch) Size() int {
	return len(b.Messages)
}

// Empty returns true if the batch has no messages.
func (b *Batch) Empty() bool {
	return len(b.Messages) == 0
}
