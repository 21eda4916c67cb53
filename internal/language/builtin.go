package language

func id(n int) *int { return &n }

var defaultParts = Parts{
	HTML: "<!-- Write your HTML here -->",
	CSS:  "/* Write your CSS here */",
	JS:   "// Write your JavaScript here",
}

// Builtin is the language table shipped with codepad. Executor ids are
// Judge0 CE language ids.
var Builtin = []Descriptor{
	{
		Key:        LocalRender,
		Name:       "HTML/CSS/JS",
		EditorMode: "html",
		Parts:      &defaultParts,
	},
	{
		Key:         "javascript",
		Name:        "JavaScript (Node.js)",
		ExecutorID:  id(63),
		Boilerplate: "// Write your JavaScript/Node.js code here",
	},
	{
		Key:         "python",
		Name:        "Python",
		ExecutorID:  id(71),
		Boilerplate: "# Write your Python code here",
	},
	{
		Key:         "cpp",
		Name:        "C++",
		ExecutorID:  id(54),
		Boilerplate: "#include <iostream>\nusing namespace std;\n\nint main() {\n    cout << \"Hello, World!\" << endl;\n    return 0;\n}",
	},
	{
		Key:         "java",
		Name:        "Java",
		ExecutorID:  id(62),
		Boilerplate: "public class Main {\n    public static void main(String[] args) {\n        System.out.println(\"Hello, World!\");\n    }\n}",
	},
	{
		Key:         "php",
		Name:        "PHP",
		ExecutorID:  id(68),
		Boilerplate: "<?php\n// Write your PHP code here\n?>",
	},
	{
		Key:        "c",
		Name:       "C",
		ExecutorID: id(50),
	},
	{
		Key:        "go",
		Name:       "Go",
		ExecutorID: id(60),
	},
	{
		Key:        "ruby",
		Name:       "Ruby",
		ExecutorID: id(72),
	},
}

// Default returns a table of the builtin languages.
func Default() *Table {
	t, _ := NewTable(Builtin)
	return t
}
