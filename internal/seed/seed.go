package seed

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/kubo-market/anomaly-sentinel/internal/domain"
	"github.com/kubo-market/anomaly-sentinel/internal/storage"
)

type entry struct {
	id    int64
	name  string
	stats [6]int
	types []string
}

var healthy = []entry{
	{1, "bulbasaur", [6]int{45, 49, 49, 65, 65, 45}, []string{"grass", "poison"}},
	{4, "charmander", [6]int{39, 52, 43, 60, 50, 65}, []string{"fire"}},
	{6, "charizard", [6]int{78, 84, 78, 109, 85, 100}, []string{"fire", "flying"}},
	{7, "squirtle", [6]int{44, 48, 65, 50, 64, 43}, []string{"water"}},
	{9, "blastoise", [6]int{79, 83, 100, 85, 105, 78}, []string{"water"}},
	{25, "pikachu", [6]int{35, 55, 40, 50, 50, 90}, []string{"electric"}},
	{35, "clefairy", [6]int{70, 45, 48, 60, 65, 35}, []string{"fairy"}},
	{39, "jigglypuff", [6]int{115, 45, 20, 45, 25, 20}, []string{"normal", "fairy"}},
	{52, "meowth", [6]int{40, 45, 35, 40, 40, 90}, []string{"normal"}},
	{54, "psyduck", [6]int{50, 52, 48, 65, 50, 55}, []string{"water"}},
	{63, "abra", [6]int{25, 20, 15, 105, 55, 90}, []string{"psychic"}},
	{66, "machop", [6]int{70, 80, 50, 35, 35, 35}, []string{"fighting"}},
	{74, "geodude", [6]int{40, 80, 100, 30, 30, 20}, []string{"rock", "ground"}},
	{92, "gastly", [6]int{30, 35, 30, 100, 35, 80}, []string{"ghost", "poison"}},
	{94, "gengar", [6]int{60, 65, 60, 130, 75, 110}, []string{"ghost", "poison"}},
	{95, "onix", [6]int{35, 45, 160, 30, 45, 70}, []string{"rock", "ground"}},
	{113, "chansey", [6]int{250, 5, 5, 35, 105, 50}, []string{"normal"}},
	{129, "magikarp", [6]int{20, 10, 55, 15, 20, 80}, []string{"water"}},
	{130, "gyarados", [6]int{95, 125, 79, 60, 100, 81}, []string{"water", "flying"}},
	{131, "lapras", [6]int{130, 85, 80, 85, 95, 60}, []string{"water", "ice"}},
	{133, "eevee", [6]int{55, 55, 50, 45, 65, 55}, []string{"normal"}},
	{143, "snorlax", [6]int{160, 110, 65, 65, 110, 30}, []string{"normal"}},
	{147, "dratini", [6]int{41, 64, 45, 50, 50, 50}, []string{"dragon"}},
	{149, "dragonite", [6]int{91, 134, 95, 100, 100, 80}, []string{"dragon", "flying"}},
	{150, "mewtwo", [6]int{106, 110, 90, 154, 90, 130}, []string{"psychic"}},
	{151, "mew", [6]int{100, 100, 100, 100, 100, 100}, []string{"psychic"}},
	{208, "steelix", [6]int{75, 85, 200, 55, 65, 30}, []string{"steel", "ground"}},
	{248, "tyranitar", [6]int{100, 134, 110, 95, 100, 61}, []string{"rock", "dark"}},
}

// Broken entries each violate one detection rule.
var broken = []entry{
	{9001, "corrupted-ditto", [6]int{-5, 48, 48, 48, 48, 48}, []string{"normal"}},
	{9002, "missingno", [6]int{33, 136, 0, 6, 6, 29}, []string{"glitch"}},
	{9003, "overclocked-porygon", [6]int{65, 999, 70, 85, 75, 40}, []string{"normal"}},
	{9004, "typeless-unown", [6]int{48, 72, 48, 72, 48, 48}, nil},
}

func (e entry) record() domain.Record {
	return domain.Record{
		ID:   e.id,
		Name: e.name,
		Stats: domain.Stats{
			HP: e.stats[0], Attack: e.stats[1], Defense: e.stats[2],
			SpecialAttack: e.stats[3], SpecialDefense: e.stats[4], Speed: e.stats[5],
		},
		Types: append([]string(nil), e.types...),
	}
}

// Records returns the sample data set: well-formed records followed by a
// handful that trip the anomaly rules.
func Records() []domain.Record {
	out := make([]domain.Record, 0, len(healthy)+len(broken))
	for _, e := range healthy {
		out = append(out, e.record())
	}
	for _, e := range broken {
		out = append(out, e.record())
	}
	return out
}

// Load upserts every sample record through w and returns the number written.
func Load(ctx context.Context, w storage.RecordWriter) (int, error) {
	n := 0
	for _, rec := range Records() {
		if err := w.UpsertRecord(ctx, rec); err != nil {
			return n, fmt.Errorf("seed %s: %w", rec.Name, err)
		}
		n++
	}
	return n, nil
}

// GenerateSQL builds a transaction inserting the sample records. Existing
// ids are left alone.
func GenerateSQL() string {
	var b strings.Builder
	b.WriteString("BEGIN;\n")

	for _, rec := range Records() {
		b.WriteString("INSERT INTO records (id, name, hp, attack, defense, special_attack, special_defense, speed, types, updated_at) VALUES (")
		b.WriteString(strconv.FormatInt(rec.ID, 10) + ", ")
		b.WriteString("'" + rec.Name + "', ")
		for _, v := range rec.Stats.Values() {
			b.WriteString(strconv.Itoa(v.Value) + ", ")
		}
		b.WriteString(typesLiteral(rec.Types) + ", ")
		b.WriteString("NOW()")
		b.WriteString(") ON CONFLICT (id) DO NOTHING;\n")
	}

	b.WriteString("COMMIT;\n")
	return b.String()
}

func typesLiteral(types []string) string {
	if len(types) == 0 {
		return "'{}'::TEXT[]"
	}
	quoted := make([]string, len(types))
	for i, t := range types {
		quoted[i] = "'" + t + "'"
	}
	return "ARRAY[" + strings.Join(quoted, ", ") + "]::TEXT[]"
}
