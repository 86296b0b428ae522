package capturer

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

const (
	defaultMinBackoff     = time.Second
	defaultMaxBackoff     = 30 * time.Second
	defaultMaxReconnects  = 10
	connectPingTimeout    = 10 * time.Second
	uuidBinarySubtype     = 0x04
	oldUUIDBinarySubtype  = 0x03
	mongoIDField          = "_id"
)

type changeStream interface {
	Next(ctx context.Context) bool
	Decode(val any) error
	ResumeToken() bson.Raw
	Err() error
	Close(ctx context.Context) error
}

type streamOpener func(ctx context.Context, collection string, resumeAfter bson.Raw) (changeStream, error)

// changeDocument is the subset of a change stream event the pipeline uses.
type changeDocument struct {
	OperationType string         `bson:"operationType"`
	DocumentKey   bson.M         `bson:"documentKey"`
	FullDocument  bson.M         `bson:"fullDocument"`
	ClusterTime   bson.Timestamp `bson:"clusterTime"`
}

// MongoSource is a ChangeSource that runs one change stream per watched
// collection.
type MongoSource struct {
	open          streamOpener
	logger        Logger
	minBackoff    time.Duration
	maxBackoff    time.Duration
	maxReconnects int

	alive   atomic.Int32
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
}

type MongoOption func(*MongoSource)

func WithMongoLogger(l Logger) MongoOption {
	return func(m *MongoSource) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithReconnectBackoff bounds the delay between reconnect attempts.
func WithReconnectBackoff(min, max time.Duration) MongoOption {
	return func(m *MongoSource) {
		m.minBackoff = min
		m.maxBackoff = max
	}
}

// WithMaxReconnects sets how many consecutive failed streams a listener
// tolerates before it exits. Zero means unlimited.
func WithMaxReconnects(n int) MongoOption {
	return func(m *MongoSource) {
		m.maxReconnects = n
	}
}

func NewMongoSource(db *mongo.Database, opts ...MongoOption) *MongoSource {
	open := func(ctx context.Context, collection string, resumeAfter bson.Raw) (changeStream, error) {
		streamOpts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
		if resumeAfter != nil {
			streamOpts.SetResumeAfter(resumeAfter)
		}
		cs, err := db.Collection(collection).Watch(ctx, mongo.Pipeline{}, streamOpts)
		if err != nil {
			return nil, err
		}
		return cs, nil
	}
	return newMongoSource(open, opts...)
}

func newMongoSource(open streamOpener, opts ...MongoOption) *MongoSource {
	m := &MongoSource{
		open:          open,
		logger:        NoopLogger(),
		minBackoff:    defaultMinBackoff,
		maxBackoff:    defaultMaxBackoff,
		maxReconnects: defaultMaxReconnects,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ConnectMongo connects to the primary store and checks it is reachable.
func ConnectMongo(ctx context.Context, uri, database string) (*mongo.Client, *mongo.Database, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}
	return client, client.Database(database), nil
}

// Start implements ChangeSource. Listeners run until Stop is called or ctx is
// cancelled.
func (m *MongoSource) Start(ctx context.Context, infos []TrackingInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("change source already running")
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.running = true

	for _, info := range infos {
		m.wg.Add(1)
		m.alive.Add(1)
		go m.track(ctx, info)
	}
	m.logger.Infof("started %d change listeners", len(infos))
	return nil
}

// Stop implements ChangeSource.
func (m *MongoSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.cancel()
	m.wg.Wait()
	m.running = false
	m.logger.Infof("change listeners stopped")
	return nil
}

// IsAlive implements ChangeSource.
func (m *MongoSource) IsAlive() bool {
	return m.alive.Load() > 0
}

func (m *MongoSource) track(ctx context.Context, info TrackingInfo) {
	defer m.wg.Done()
	defer m.alive.Add(-1)

	token := info.LastToken
	backoff := m.minBackoff
	failures := 0

	for {
		delivered, err := m.watch(ctx, info, &token)
		if ctx.Err() != nil {
			m.logger.Infof("listener %s exiting: %v", info.Entity.Name, ctx.Err())
			return
		}
		if delivered > 0 {
			failures = 0
			backoff = m.minBackoff
		}
		failures++
		if m.maxReconnects > 0 && failures > m.maxReconnects {
			m.logger.Errorf("listener %s giving up after %d failed streams: %v", info.Entity.Name, failures-1, err)
			return
		}

		m.logger.Warnf("change stream on %s ended: %v, reconnecting in %s", info.Entity.Collection, err, backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, m.maxBackoff)
	}
}

// watch streams one change stream until it fails. token is advanced after
// every event the subscriber accepted.
func (m *MongoSource) watch(ctx context.Context, info TrackingInfo, token *string) (int, error) {
	resumeAfter, err := DecodeToken(*token)
	if err != nil {
		m.logger.Warnf("discarding invalid resume token for %s: %v", info.Entity.Name, err)
		*token = ""
		resumeAfter = nil
	}

	stream, err := m.open(ctx, info.Entity.Collection, resumeAfter)
	if err != nil {
		return 0, fmt.Errorf("failed to open change stream: %w", err)
	}
	defer stream.Close(context.Background())

	m.logger.Debugf("watching %s for %s (resume=%t)", info.Entity.Collection, info.Entity.Name, resumeAfter != nil)

	delivered := 0
	for stream.Next(ctx) {
		var doc changeDocument
		if err := stream.Decode(&doc); err != nil {
			m.logger.Errorf("failed to decode change on %s: %v", info.Entity.Collection, err)
			continue
		}

		event := decodeChange(info.Entity.Name, doc)
		event.ResumeToken = EncodeToken(stream.ResumeToken())

		if !info.Subscriber.Enqueue(ctx, event) {
			return delivered, fmt.Errorf("subscriber rejected event %s", event.UUID)
		}
		delivered++
		if event.ResumeToken != "" {
			*token = event.ResumeToken
		}
	}
	if err := stream.Err(); err != nil {
		return delivered, err
	}
	return delivered, fmt.Errorf("change stream closed")
}

func decodeChange(entity string, doc changeDocument) *ChangeEvent {
	event := &ChangeEvent{
		EntityType: entity,
		ChangeType: changeTypeOf(doc.OperationType),
		Timestamp:  time.Now().UTC(),
	}
	if doc.ClusterTime.T != 0 {
		event.Timestamp = time.Unix(int64(doc.ClusterTime.T), 0).UTC()
	}
	if id, ok := doc.DocumentKey[mongoIDField]; ok {
		event.UUID = idString(id)
	} else if id, ok := doc.FullDocument[mongoIDField]; ok {
		event.UUID = idString(id)
	}
	if doc.FullDocument != nil {
		event.FullDocument = convertDocument(doc.FullDocument)
	}
	return event
}

func changeTypeOf(op string) ChangeType {
	switch op {
	case "insert":
		return Insert
	case "update", "replace":
		return Update
	case "delete":
		return Delete
	default:
		return ChangeType(strings.ToUpper(op))
	}
}

func idString(v any) string {
	switch id := v.(type) {
	case bson.ObjectID:
		return id.Hex()
	case string:
		return id
	case bson.Binary:
		if (id.Subtype == uuidBinarySubtype || id.Subtype == oldUUIDBinarySubtype) && len(id.Data) == 16 {
			d := id.Data
			return fmt.Sprintf("%x-%x-%x-%x-%x", d[0:4], d[4:6], d[6:8], d[8:10], d[10:16])
		}
		return fmt.Sprintf("%x", id.Data)
	default:
		return fmt.Sprint(v)
	}
}

// convertDocument turns a decoded BSON document into plain Go values.
func convertDocument(m bson.M) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = convertValue(v)
	}
	return out
}

func convertValue(v any) any {
	switch val := v.(type) {
	case bson.M:
		return convertDocument(val)
	case bson.D:
		nested := make(map[string]any, len(val))
		for _, elem := range val {
			nested[elem.Key] = convertValue(elem.Value)
		}
		return nested
	case bson.A:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = convertValue(e)
		}
		return out
	case bson.ObjectID:
		return val.Hex()
	case bson.DateTime:
		return val.Time().UTC()
	case bson.Binary:
		if val.Subtype == uuidBinarySubtype {
			return idString(val)
		}
		return val.Data
	case bson.Decimal128:
		return val.String()
	default:
		return v
	}
}

// EncodeToken renders a resume token as the opaque string persisted in state.
func EncodeToken(raw bson.Raw) string {
	if len(raw) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(raw)
}

// DecodeToken is the inverse of EncodeToken. An empty token decodes to nil.
func DecodeToken(token string) (bson.Raw, error) {
	if token == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("invalid resume token: %w", err)
	}
	raw := bson.Raw(b)
	if err := raw.Validate(); err != nil {
		return nil, fmt.Errorf("invalid resume token: %w", err)
	}
	return raw, nil
}

var _ ChangeSource = (*MongoSource)(nil)
