package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/linkup/nearby-app/internal/geo"
	"github.com/linkup/nearby-app/internal/location"
	"github.com/linkup/nearby-app/internal/match"
	"github.com/linkup/nearby-app/internal/messaging"
	"github.com/linkup/nearby-app/internal/metrics"
	"github.com/linkup/nearby-app/internal/presence"
	"github.com/linkup/nearby-app/internal/profile"
	"github.com/linkup/nearby-app/internal/protocol"
	"github.com/linkup/nearby-app/internal/ratelimit"
	"github.com/linkup/nearby-app/internal/rooms"
	"github.com/linkup/nearby-app/internal/ws"
)

const storeTimeout = 3 * time.Second

func main() {
	config := ws.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}

	serverName, _ := os.Hostname()
	if v := os.Getenv("SERVER_NAME"); v != "" {
		serverName = v
	}
	if serverName == "" {
		serverName = "nearby-1"
	}

	// --- Profile store (PostgreSQL, required) ---
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}
	if err := profile.RunMigrations(databaseURL); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}
	profileStore, err := profile.NewSQLStore(databaseURL)
	if err != nil {
		log.Fatalf("failed to connect to profile store: %v", err)
	}

	// --- Redis (optional: cooldown ledger + rate limiting) ---
	var (
		ledger  match.Ledger
		limiter *ratelimit.Limiter
	)
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		pingCtx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			cancel()
			log.Fatalf("failed to connect to Redis at %s: %v", redisAddr, err)
		}
		cancel()
		ledger = match.NewRedisLedger(rdb)
		limiter = ratelimit.NewLimiter(rdb)
	} else {
		ledger = match.NewMemoryLedger()
		log.Printf("REDIS_ADDR not set; using in-memory cooldown ledger, rate limiting disabled")
	}

	// --- NATS (optional: cross-instance relay) ---
	var (
		natsClient *messaging.Client
		relay      rooms.Relay
	)
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsConfig := messaging.DefaultConfig()
		natsConfig.URL = natsURL
		natsConfig.Name = serverName
		natsClient, err = messaging.NewClient(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		relay = natsClient
	}

	brokerConfig := rooms.DefaultConfig()
	if v := os.Getenv("ECHO_TO_SENDER"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			brokerConfig.EchoToSender = b
		}
	}

	log.Printf("Nearby WebSocket server starting")
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  read_timeout:    %s", config.ReadTimeout)
	log.Printf("  write_timeout:   %s", config.WriteTimeout)
	log.Printf("  redis_addr:      %s", orNone(redisAddr))
	log.Printf("  nats_url:        %s", orNone(os.Getenv("NATS_URL")))
	log.Printf("  echo_to_sender:  %v", brokerConfig.EchoToSender)
	log.Printf("  server_name:     %s", serverName)

	locations := location.NewRegistry()
	presenceReg := presence.NewRegistry()

	dispatcher := ws.NewMessageDispatcher(nil)
	server := ws.NewServer(config, dispatcher.Dispatch)
	dispatcher.SetServer(server)

	broker := rooms.NewBroker(presenceReg, server, relay, brokerConfig)

	// subscribeRoomRelay binds a connection to relayed room traffic so that
	// members on other server instances reach it. No-op without NATS.
	subscribeRoomRelay := func(connID, roomID string) {
		if natsClient == nil {
			return
		}
		if err := natsClient.SubscribeRoomEvents(roomID, connID, func(data []byte) {
			broker.DeliverRoomEvent(connID, data)
		}); err != nil {
			log.Printf("room relay subscribe failed conn=%s room=%s: %v", connID, roomID, err)
		}
	}

	// broadcastNearby runs the proximity query for a user, sends the
	// nearby_users result to the connection, and returns the interest-matched
	// neighbors so the caller can run the notification pass. The local result
	// is filtered to users sharing an interest; the global fallback sample is
	// sent unfiltered and flagged.
	broadcastNearby := func(conn *ws.Connection, userID string, center geo.Point, radiusKm float64) []protocol.NearbyUser {
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()

		neighbors := locations.FindNearby(center, radiusKm, userID)
		fallback := false
		if len(neighbors) == 0 {
			neighbors = locations.GlobalFallback(center, userID)
			fallback = true
		}

		var selfInterests []string
		self, err := profileStore.GetByID(ctx, userID)
		if err != nil {
			log.Printf("profile lookup failed user=%s: %v", userID, err)
		} else if self != nil {
			selfInterests = self.Interests
		}

		ids := make([]string, 0, len(neighbors))
		for _, n := range neighbors {
			ids = append(ids, n.UserID)
		}
		profiles, err := profileStore.GetByIDs(ctx, ids)
		if err != nil {
			log.Printf("profile batch lookup failed user=%s: %v", userID, err)
			profiles = nil
		}

		users := make([]protocol.NearbyUser, 0, len(neighbors))
		var matched []protocol.NearbyUser
		for _, n := range neighbors {
			p := profiles[n.UserID]
			if p == nil {
				continue // no profile, nothing to show
			}
			entry := protocol.NearbyUser{
				UserID:      n.UserID,
				DisplayName: p.DisplayName,
				Lat:         n.Point.Lat,
				Lng:         n.Point.Lng,
				Interests:   p.Interests,
				DistanceKm:  n.DistanceKm,
			}
			if fallback {
				users = append(users, entry)
				continue
			}
			if match.Matches(selfInterests, p.Interests) {
				users = append(users, entry)
				matched = append(matched, entry)
			}
		}

		result := "local"
		if fallback {
			result = "fallback"
		}
		metrics.NearbyQueriesTotal.WithLabelValues(result).Inc()
		metrics.QueryDuration.Observe(time.Since(start).Seconds())

		resp, err := protocol.NewServerMessage(protocol.TypeNearbyUsers, protocol.NearbyUsersMsg{
			Users:    users,
			Fallback: fallback,
		})
		if err != nil {
			log.Printf("failed to build nearby_users for %s: %v", userID, err)
			return matched
		}
		if err := conn.WriteMessage(resp); err != nil {
			log.Printf("failed to send nearby_users conn=%s: %v", conn.ID, err)
		}
		return matched
	}

	sendError := func(conn *ws.Connection, code, message string) {
		resp, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
			Code:    code,
			Message: message,
		})
		if err != nil {
			return
		}
		_ = conn.WriteMessage(resp)
	}

	sendRateLimited := func(conn *ws.Connection, retryAfter int) {
		resp, err := protocol.NewServerMessage(protocol.TypeRateLimited, protocol.RateLimitedMsg{
			RetryAfter: retryAfter,
		})
		if err != nil {
			return
		}
		_ = conn.WriteMessage(resp)
	}

	// allow is a nil-safe rate limit check. Returns true when the request may
	// proceed; sends rate_limited itself otherwise.
	allow := func(conn *ws.Connection, identifier string, rule ratelimit.Rule) bool {
		if limiter == nil {
			return true
		}
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		allowed, err := limiter.Allow(ctx, identifier, rule)
		if err != nil || allowed {
			return true
		}
		sendRateLimited(conn, limiter.RetryAfter(ctx, identifier, rule))
		return false
	}

	// -----------------------------------------------------------------------
	// register — bind the connection to a user identity
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeRegister, func(conn *ws.Connection, msg interface{}) {
		regMsg, ok := msg.(protocol.RegisterMsg)
		if !ok {
			return
		}
		if regMsg.UserID == "" {
			sendError(conn, "invalid_register", "empty user id")
			return
		}

		presenceReg.Register(conn.ID, regMsg.UserID)
		metrics.RegisteredUsers.Set(float64(presenceReg.ConnCount()))

		// Route relayed user events (chat requests, match notifications from
		// other instances) to this connection.
		if natsClient != nil {
			if err := natsClient.SubscribeUserEvents(regMsg.UserID, conn.ID, func(data []byte) {
				if err := server.SendMessage(conn.ID, data); err != nil {
					log.Printf("user relay delivery failed conn=%s: %v", conn.ID, err)
				}
			}); err != nil {
				log.Printf("user relay subscribe failed conn=%s user=%s: %v", conn.ID, regMsg.UserID, err)
			}
		}

		resp, err := protocol.NewServerMessage(protocol.TypeRegistered, protocol.RegisteredMsg{
			UserID: regMsg.UserID,
		})
		if err == nil {
			_ = conn.WriteMessage(resp)
		}

		// A returning user with a known location gets an immediate nearby
		// broadcast instead of waiting for the next location ping.
		if loc, ok := locations.Get(regMsg.UserID); ok {
			broadcastNearby(conn, regMsg.UserID, loc.Point, location.DefaultRadiusKm)
		}

		log.Printf("register conn=%s user=%s", conn.ID, regMsg.UserID)
	})

	// -----------------------------------------------------------------------
	// update_location — location ping, nearby query, match notifications
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeUpdateLocation, func(conn *ws.Connection, msg interface{}) {
		locMsg, ok := msg.(protocol.UpdateLocationMsg)
		if !ok {
			return
		}
		userID := presenceReg.UserFor(conn.ID)
		if userID == "" {
			sendError(conn, "not_registered", "register before sending location updates")
			return
		}
		if !allow(conn, conn.ID, ratelimit.RuleLocation) {
			return
		}

		now := time.Now()
		p := geo.Point{Lat: locMsg.Lat, Lng: locMsg.Lng}
		if err := locations.Upsert(userID, p, now); err != nil {
			sendError(conn, "invalid_location", "coordinates out of range")
			return
		}
		metrics.LocationUpdatesTotal.Inc()

		// Keep the durable profile in sync, best effort. The in-memory
		// registry is authoritative for live queries.
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		if err := profileStore.UpsertLocation(ctx, userID, p, now); err != nil {
			log.Printf("profile location upsert failed user=%s: %v", userID, err)
		}
		cancel()

		radius := location.ClampRadius(locMsg.RadiusKm)
		matched := broadcastNearby(conn, userID, p, radius)
		if len(matched) == 0 {
			return
		}

		selfName := "User"
		var selfInterests []string
		profCtx, cancelProf := context.WithTimeout(context.Background(), storeTimeout)
		if self, err := profileStore.GetByID(profCtx, userID); err == nil && self != nil {
			if self.DisplayName != "" {
				selfName = self.DisplayName
			}
			selfInterests = self.Interests
		}
		cancelProf()

		// Notification pass: each direction keeps its own ledger, so A
		// hearing about B does not suppress B hearing about A.
		notifyCtx, cancelNotify := context.WithTimeout(context.Background(), storeTimeout)
		defer cancelNotify()

		var fresh []protocol.NearbyUser
		for _, other := range matched {
			if ledger.ShouldNotify(notifyCtx, userID, other.UserID, now) {
				fresh = append(fresh, other)
				ledger.Record(notifyCtx, userID, other.UserID, now)
			}

			if !ledger.ShouldNotify(notifyCtx, other.UserID, userID, now) {
				continue
			}
			ledger.Record(notifyCtx, other.UserID, userID, now)

			selfLoc, ok := locations.Get(userID)
			if !ok {
				continue
			}
			notif, err := protocol.NewServerMessage(protocol.TypeMatchNotification, protocol.MatchNotificationMsg{
				Message: fmt.Sprintf("You have a new interest match nearby: %s", selfName),
				Users: []protocol.NearbyUser{{
					UserID:      userID,
					DisplayName: selfName,
					Lat:         selfLoc.Point.Lat,
					Lng:         selfLoc.Point.Lng,
					Interests:   selfInterests,
					DistanceKm:  other.DistanceKm,
				}},
			})
			if err != nil {
				continue
			}
			broker.NotifyUser(other.UserID, notif)
			metrics.MatchNotificationsTotal.Inc()
		}

		if len(fresh) > 0 {
			notif, err := protocol.NewServerMessage(protocol.TypeMatchNotification, protocol.MatchNotificationMsg{
				Message: fmt.Sprintf("You found %d new people with similar interests nearby!", len(fresh)),
				Users:   fresh,
			})
			if err == nil {
				_ = conn.WriteMessage(notif)
				metrics.MatchNotificationsTotal.Inc()
			}
		}
	})

	// -----------------------------------------------------------------------
	// request_room — open a pairwise room with another user
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeRequestRoom, func(conn *ws.Connection, msg interface{}) {
		reqMsg, ok := msg.(protocol.RequestRoomMsg)
		if !ok {
			return
		}
		userID := presenceReg.UserFor(conn.ID)
		if userID == "" {
			sendError(conn, "not_registered", "register before requesting a room")
			return
		}
		if reqMsg.TargetUserID == "" {
			sendError(conn, "invalid_target", "empty target user id")
			return
		}

		roomID, err := broker.Request(conn.ID, displayName(profileStore, userID), reqMsg.TargetUserID)
		if err != nil {
			log.Printf("request_room failed conn=%s: %v", conn.ID, err)
			return
		}
		subscribeRoomRelay(conn.ID, roomID)

		resp, err := protocol.NewServerMessage(protocol.TypeRoomJoined, protocol.RoomJoinedMsg{
			RoomID: roomID,
		})
		if err == nil {
			_ = conn.WriteMessage(resp)
		}

		log.Printf("request_room conn=%s user=%s room=%s", conn.ID, userID, roomID)
	})

	// -----------------------------------------------------------------------
	// accept_room — join an already-requested room
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeAcceptRoom, func(conn *ws.Connection, msg interface{}) {
		acceptMsg, ok := msg.(protocol.AcceptRoomMsg)
		if !ok {
			return
		}
		if err := broker.Accept(conn.ID, acceptMsg.RoomID); err != nil {
			log.Printf("accept_room failed conn=%s room=%s: %v", conn.ID, acceptMsg.RoomID, err)
			return
		}
		subscribeRoomRelay(conn.ID, acceptMsg.RoomID)

		resp, err := protocol.NewServerMessage(protocol.TypeRoomJoined, protocol.RoomJoinedMsg{
			RoomID: acceptMsg.RoomID,
		})
		if err == nil {
			_ = conn.WriteMessage(resp)
		}

		log.Printf("accept_room conn=%s room=%s", conn.ID, acceptMsg.RoomID)
	})

	// -----------------------------------------------------------------------
	// send — text message to a room
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeSend, func(conn *ws.Connection, msg interface{}) {
		sendMsg, ok := msg.(protocol.SendMsg)
		if !ok {
			return
		}
		if sendMsg.RoomID == "" || sendMsg.Text == "" {
			sendError(conn, "invalid_message", "room id and text are required")
			return
		}
		if !allow(conn, conn.ID, ratelimit.RuleMessage) {
			return
		}
		if err := broker.Send(conn.ID, sendMsg.RoomID, sendMsg.Text); err != nil {
			log.Printf("send failed conn=%s room=%s: %v", conn.ID, sendMsg.RoomID, err)
		}
	})

	// Per-IP connect throttle. The connection is already upgraded at this
	// point; over-limit clients get rate_limited and are dropped.
	server.SetOnConnect(func(conn *ws.Connection) {
		if limiter == nil || conn.RemoteIP == "" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		allowed, err := limiter.Allow(ctx, conn.RemoteIP, ratelimit.RuleConnect)
		if err != nil || allowed {
			return
		}
		sendRateLimited(conn, limiter.RetryAfter(ctx, conn.RemoteIP, ratelimit.RuleConnect))
		server.RemoveConnection(conn)
	})

	// Disconnect cleanup: presence and room membership go synchronously, the
	// location registry entry survives so the user reappears in queries after
	// a reconnect-and-register.
	server.SetOnDisconnect(func(connID string) {
		presenceReg.Unregister(connID)
		metrics.RegisteredUsers.Set(float64(presenceReg.ConnCount()))
		if natsClient != nil {
			natsClient.UnsubscribeConn(connID)
		}
	})

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		if natsClient != nil {
			natsClient.Close()
		}
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if err := profileStore.Close(); err != nil {
			log.Printf("profile store close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// displayName resolves a user's display name from the profile store,
// degrading to "User" when the store has no row or is unreachable.
func displayName(store profile.Store, userID string) string {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	u, err := store.GetByID(ctx, userID)
	if err != nil || u == nil || u.DisplayName == "" {
		return "User"
	}
	return u.DisplayName
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
