package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"flag"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wfunc/tapserver/logger"
	"github.com/wfunc/tapserver/models"
	"github.com/wfunc/tapserver/network"
)

const usage = `commands:
  create <name>          create a room and host it
  join <room> <name>     join a room
  start <seconds>        start a round (host)
  tap                    act
  end | reset | force    finish, reset or force-end (host)
  joins on|off           open or close the room (host)
  leave                  leave the current room`

var errUsage = errors.New("unknown command, see usage above")

// send formats and sends a message to the WebSocket server.
func send(c *websocket.Conn, msgID uint16, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	frame, err := network.EncodeFrame(msgID, data)
	if err != nil {
		return err
	}
	return c.WriteMessage(websocket.BinaryMessage, frame)
}

func main() {
	addr := flag.String("addr", "localhost:8080", "server host:port")
	flag.Parse()

	logger.InitDevelopment()
	defer logger.Sync()
	log := logger.Log

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws"}
	log.Infof("Connecting to %s", u.String())

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	done := make(chan struct{})
	currentRoom := make(chan string, 1)

	// Read loop
	go func() {
		defer close(done)
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				log.Infof("Read error: %v", err)
				return
			}
			pkt, err := network.DecodeFrame(message)
			if err != nil {
				log.Warnf("Received invalid packet of size %d", len(message))
				continue
			}
			printPacket(pkt, currentRoom)
		}
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
		close(lines)
	}()

	log.Info(usage)

	var roomID string
	for {
		select {
		case <-done:
			return
		case id := <-currentRoom:
			roomID = id
		case <-interrupt:
			log.Info("Interrupt received, closing connection.")
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Warnf("Write close error: %v", err)
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		case text, ok := <-lines:
			if !ok {
				return
			}
			if err := runCommand(c, text, &roomID); err != nil {
				log.Warnf("%v", err)
			}
		}
	}
}

func runCommand(c *websocket.Conn, text string, roomID *string) error {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}
	room := network.RoomRequest{RoomID: *roomID}

	switch fields[0] {
	case "create":
		if len(fields) < 2 {
			return errUsage
		}
		return send(c, network.MsgTypeCreateRoom, network.CreateRoomRequest{Name: strings.Join(fields[1:], " ")})
	case "join":
		if len(fields) < 3 {
			return errUsage
		}
		*roomID = strings.ToUpper(fields[1])
		return send(c, network.MsgTypeJoinRoom, network.JoinRoomRequest{RoomID: *roomID, Name: strings.Join(fields[2:], " ")})
	case "start":
		secs := 5
		if len(fields) > 1 {
			n, err := strconv.Atoi(fields[1])
			if err != nil {
				return errUsage
			}
			secs = n
		}
		return send(c, network.MsgTypeStartRound, network.StartRoundRequest{RoomID: *roomID, DurationSeconds: secs})
	case "tap":
		return send(c, network.MsgTypePlayerAct, room)
	case "end":
		return send(c, network.MsgTypeEndRound, room)
	case "reset":
		return send(c, network.MsgTypeResetRoom, room)
	case "force":
		return send(c, network.MsgTypeForceEnd, room)
	case "leave":
		return send(c, network.MsgTypeLeaveRoom, room)
	case "joins":
		if len(fields) < 2 {
			return errUsage
		}
		return send(c, network.MsgTypeSetJoins, network.SetJoinsRequest{RoomID: *roomID, Accepting: fields[1] == "on"})
	default:
		return errUsage
	}
}

func printPacket(pkt *network.Packet, currentRoom chan<- string) {
	log := logger.Log

	switch pkt.MsgID {
	case network.MsgTypeRoomEvent:
		var ev models.Event
		if err := json.Unmarshal(pkt.Data, &ev); err != nil {
			log.Warnf("Bad event: %v", err)
			return
		}
		switch ev.Type {
		case models.EventRoundStarted:
			log.Infof("[%s] round %d started, %ds on the clock", ev.RoomID, ev.Round, ev.DurationMs/1000)
		case models.EventPhaseChanged:
			log.Infof("[%s] time is up, TAP NOW", ev.RoomID)
		case models.EventFirstActor:
			log.Infof("[%s] %s tapped first!", ev.RoomID, ev.Name)
		case models.EventRoundFinished, models.EventRoomForceEnded:
			log.Infof("[%s] %s", ev.RoomID, ev.Type)
			for _, e := range ev.Leaderboard {
				log.Infof("  %d. %s (%d)", e.Rank, e.Name, e.ActCount)
			}
		default:
			log.Infof("[%s] %s %s", ev.RoomID, ev.Type, ev.Name)
		}
	case network.MsgTypeCreateRoom:
		var snap models.RoomSnapshot
		if err := json.Unmarshal(pkt.Data, &snap); err == nil && snap.Room != nil {
			log.Infof("Created room %s", snap.Room.ID)
			currentRoom <- snap.Room.ID
		}
	case network.MsgTypeError:
		var e network.ErrorReply
		_ = json.Unmarshal(pkt.Data, &e)
		log.Warnf("Request %d failed: %s (%s)", e.Request, e.Code, e.Message)
	default:
		log.Infof("<- RECV (ID: %d): %s", pkt.MsgID, string(pkt.Data))
	}
}
