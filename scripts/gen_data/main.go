package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/noah-isme/sma-timetable/internal/dto"
	"github.com/noah-isme/sma-timetable/internal/models"
)

type generatorConfig struct {
	Teachers       int
	Subjects       int
	Rooms          int
	GroupsPerYear  [2]int
	SubjectsPerGrp [2]int
	TeachPerTeach  [2]int
	SizeRange      [2]int
}

var (
	firstNames = []string{"Somchai", "Somying", "Mana", "Manee", "Piti", "Chujai", "Weera", "Suda", "Amnat", "Waree", "Kanda", "Wichai"}
	lastNames  = []string{"Jaidee", "Rakrian", "Odton", "Meesuk", "Charoen", "Mankong", "Pakpian", "Wichakan", "Kengkla", "Sa-at"}
	roomTypes  = []string{"CLASS", "CLASS", "CLASS", "LAB", "WORKSHOP"}
)

// maxRooms is the number of distinct building/floor/number combinations.
const maxRooms = 15 * 8 * 20

type department struct {
	Key  string
	Name string
}

var departments = []department{
	{"IT", "Information Tech"},
	{"AC", "Accounting"},
	{"MKT", "Marketing"},
	{"EL", "Electronics"},
	{"ME", "Mechanic"},
	{"CV", "Civil Construction"},
	{"LOG", "Logistics"},
	{"ARC", "Architecture"},
}

// levels are the two programmes; the first runs three years, the second two.
var levels = []struct {
	Name  string
	Years int
}{
	{"VC", 3},
	{"HVC", 2},
}

func main() {
	var (
		out      string
		seed     int64
		teachers int
		subjects int
		rooms    int
		postURL  string
		token    string
		name     string
	)
	flag.StringVar(&out, "out", "dataset.json", "Output file; - writes to stdout")
	flag.Int64Var(&seed, "seed", time.Now().UnixNano(), "Random seed")
	flag.IntVar(&teachers, "teachers", 200, "Number of teachers")
	flag.IntVar(&subjects, "subjects", 400, "Number of subjects")
	flag.IntVar(&rooms, "rooms", 200, "Number of rooms")
	flag.StringVar(&postURL, "post", "", "API base URL (e.g. http://localhost:8080/api/v1); uploads the dataset instead of writing it")
	flag.StringVar(&token, "token", "", "Bearer token used with -post")
	flag.StringVar(&name, "name", "", "Dataset name used with -post")
	flag.Parse()

	cfg := generatorConfig{
		Teachers:       teachers,
		Subjects:       subjects,
		Rooms:          rooms,
		GroupsPerYear:  [2]int{3, 6},
		SubjectsPerGrp: [2]int{5, 8},
		TeachPerTeach:  [2]int{1, 5},
		SizeRange:      [2]int{10, 40},
	}
	if teachers < 1 || subjects < 1 || rooms < 1 || rooms > maxRooms {
		log.Fatalf("teachers and subjects must be positive and rooms between 1 and %d", maxRooms)
	}
	data := generate(rand.New(rand.NewSource(seed)), cfg)

	if postURL != "" {
		if name == "" {
			name = fmt.Sprintf("generated-%d", seed)
		}
		if err := upload(postURL, token, name, data); err != nil {
			log.Fatalf("upload failed: %v", err)
		}
		return
	}
	if err := write(out, data); err != nil {
		log.Fatalf("failed to write dataset: %v", err)
	}
	fmt.Fprintf(os.Stderr, "seed %d: %d teachers, %d groups, %d rooms, %d subjects, %d registrations, %d teaching records\n",
		seed, len(data.Teachers), len(data.Groups), len(data.Rooms), len(data.Subjects), len(data.Registrations), len(data.Teaching))
}

func generate(rng *rand.Rand, cfg generatorConfig) models.Dataset {
	var data models.Dataset

	leaders := cfg.Teachers / 10
	for i := 1; i <= cfg.Teachers; i++ {
		role := "Teacher"
		if i <= leaders {
			role = "Leader"
		}
		data.Teachers = append(data.Teachers, models.Teacher{ID: fmt.Sprintf("T%03d", i), Name: personName(rng), Role: role})
	}

	seenSubjects := make(map[string]bool, cfg.Subjects)
	for len(data.Subjects) < cfg.Subjects {
		code := fmt.Sprintf("%03d", rng.Intn(1000))
		id := fmt.Sprintf("%d%d%s-%d%d", 2+rng.Intn(2), rng.Intn(4), code, 1+rng.Intn(9), 100+rng.Intn(900))
		if seenSubjects[id] {
			continue
		}
		seenSubjects[id] = true
		dept := departments[rng.Intn(len(departments))]
		subject := models.Subject{
			ID:       id,
			Name:     fmt.Sprintf("%s %s", dept.Name, code),
			Theory:   strconv.Itoa(between(rng, 1, 3)),
			Practice: strconv.Itoa(between(rng, 2, 4)),
			Credit:   strconv.Itoa(between(rng, 1, 3)),
		}
		if rng.Intn(5) == 0 {
			subject.RoomType = roomTypes[3+rng.Intn(2)]
		}
		data.Subjects = append(data.Subjects, subject)
	}

	seenRooms := make(map[string]bool, cfg.Rooms)
	for len(data.Rooms) < cfg.Rooms {
		id := fmt.Sprintf("R%d%d%02d", 1+rng.Intn(15), 1+rng.Intn(8), 1+rng.Intn(20))
		if seenRooms[id] {
			continue
		}
		seenRooms[id] = true
		data.Rooms = append(data.Rooms, models.Room{ID: id, Name: id[1:], Type: roomTypes[rng.Intn(len(roomTypes))]})
	}

	counter := 1
	for _, dept := range departments {
		for _, level := range levels {
			for year := 1; year <= level.Years; year++ {
				groups := between(rng, cfg.GroupsPerYear[0], cfg.GroupsPerYear[1])
				for g := 1; g <= groups; g++ {
					id := fmt.Sprintf("G%d", counter)
					counter++
					data.Groups = append(data.Groups, models.Group{
						ID:      id,
						Name:    fmt.Sprintf("%s%d/%d-%s", level.Name, year, g, dept.Key),
						Size:    between(rng, cfg.SizeRange[0], cfg.SizeRange[1]),
						Advisor: data.Teachers[rng.Intn(len(data.Teachers))].Name,
					})
					for _, idx := range sample(rng, len(data.Subjects), between(rng, cfg.SubjectsPerGrp[0], cfg.SubjectsPerGrp[1])) {
						data.Registrations = append(data.Registrations, models.Registration{GroupID: id, SubjectID: data.Subjects[idx].ID})
					}
				}
			}
		}
	}

	for _, teacher := range data.Teachers {
		for _, idx := range sample(rng, len(data.Subjects), between(rng, cfg.TeachPerTeach[0], cfg.TeachPerTeach[1])) {
			data.Teaching = append(data.Teaching, models.TeachAssignment{TeacherID: teacher.ID, SubjectID: data.Subjects[idx].ID})
		}
	}
	return data
}

func personName(rng *rand.Rand) string {
	return firstNames[rng.Intn(len(firstNames))] + " " + lastNames[rng.Intn(len(lastNames))]
}

// between returns a value in [lo, hi].
func between(rng *rand.Rand, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + rng.Intn(hi-lo+1)
}

// sample returns k distinct indexes below n.
func sample(rng *rand.Rand, n, k int) []int {
	if k > n {
		k = n
	}
	return rng.Perm(n)[:k]
}

func write(path string, data models.Dataset) error {
	var w io.Writer = os.Stdout
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func upload(baseURL, token, name string, data models.Dataset) error {
	body, err := json.Marshal(dto.CreateDatasetRequest{Name: name, Dataset: data})
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, baseURL+"/datasets", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	payload, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, payload)
	}
	fmt.Println(string(payload))
	return nil
}
