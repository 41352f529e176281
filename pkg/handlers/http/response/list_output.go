package response

type ListOutput[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

func NewListOutput[T any](items []T) ListOutput[T] {
	if items == nil {
		items = []T{}
	}
	return ListOutput[T]{Items: items, Count: len(items)}
}

type ErrorOutput struct {
	Error string `json:"error"`
}
