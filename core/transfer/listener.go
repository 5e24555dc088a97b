package transfer

// Listener observes queue transitions. Embed NopListener to implement only
// the callbacks you need.
type Listener interface {
	OnStart(it *Item)
	OnUpdate(it *Item)
	OnComplete(it *Item)
	OnFail(it *Item, err error)
}

// NopListener ignores every callback.
type NopListener struct{}

func (NopListener) OnStart(*Item)       {}
func (NopListener) OnUpdate(*Item)      {}
func (NopListener) OnComplete(*Item)    {}
func (NopListener) OnFail(*Item, error) {}
