package main

import (
	"flag"
	"io"
	"log"
	"os"

	"github.com/danmuck/tina/internal/sim"
)

func main() {
	diameter := flag.Int("d", 5, "grid side length")
	radius := flag.Float64("r", 1.5, "radio range in grid units")
	gain := flag.Float64("gain", sim.DefaultGainDB, "link gain in dB")
	output := flag.String("o", "", "output path (stdout when empty)")
	dot := flag.String("dot", "", "also write the radio graph as DOT")
	flag.Parse()

	links, err := sim.GenerateGrid(*diameter, *radius, *gain)
	if err != nil {
		log.Fatal(err)
	}

	var w io.Writer = os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close()
		w = f
	}
	if err := sim.WriteLinks(w, links); err != nil {
		log.Fatal(err)
	}

	if *dot != "" {
		g, err := sim.NeighbourGraph(links)
		if err != nil {
			log.Fatal(err)
		}
		f, err := os.Create(*dot)
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close()
		if err := sim.WriteDOT(f, g); err != nil {
			log.Fatal(err)
		}
	}
	if *output != "" {
		log.Printf("Wrote %d links for a %dx%d grid to %s", len(links), *diameter, *diameter, *output)
	}
}
