package ws

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans project status events out to subscribers keyed by project
// ID. All bookkeeping happens on the run loop goroutine.
type Hub struct {
	subscribers map[string]map[Subscriber]struct{}
	register    chan subscription
	unreg       chan subscription
	broadcast   chan message
}

type message struct {
	projectID string
	payload   []byte
}

type subscription struct {
	projectID string
	client    Subscriber
}

// NewHub creates an initialized Hub.
func NewHub() *Hub {
	h := &Hub{
		subscribers: make(map[string]map[Subscriber]struct{}),
		register:    make(chan subscription),
		unreg:       make(chan subscription),
		broadcast:   make(chan message),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case sub := <-h.register:
			if _, ok := h.subscribers[sub.projectID]; !ok {
				h.subscribers[sub.projectID] = make(map[Subscriber]struct{})
			}
			h.subscribers[sub.projectID][sub.client] = struct{}{}
		case sub := <-h.unreg:
			if clients, ok := h.subscribers[sub.projectID]; ok {
				delete(clients, sub.client)
				if len(clients) == 0 {
					delete(h.subscribers, sub.projectID)
				}
			}
		case msg := <-h.broadcast:
			if clients, ok := h.subscribers[msg.projectID]; ok {
				for c := range clients {
					if err := c.Send(msg.payload); err != nil {
						c.Close()
						delete(clients, c)
					}
				}
				if len(clients) == 0 {
					delete(h.subscribers, msg.projectID)
				}
			}
		}
	}
}

// Register adds a client to a project's status stream.
func (h *Hub) Register(projectID string, client Subscriber) {
	h.register <- subscription{projectID: projectID, client: client}
}

// Unregister removes a client.
func (h *Hub) Unregister(projectID string, client Subscriber) {
	h.unreg <- subscription{projectID: projectID, client: client}
}

// Broadcast delivers a status event payload to a project's
// subscribers.
func (h *Hub) Broadcast(projectID string, payload []byte) {
	h.broadcast <- message{projectID: projectID, payload: payload}
}
